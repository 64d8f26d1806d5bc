// Package ledger appends annotations to policy files, bounded by the
// resolved comment quota of the file being written.
package ledger

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/yamonco/ward/internal/policy"
)

var (
	ErrNoPolicyFile     = errors.New("no policy file")
	ErrCommentsDisabled = errors.New("comments are disabled")
	ErrLedgerFull       = errors.New("comment quota reached")
	ErrLedgerBusy       = errors.New("policy file is locked by another writer")
	ErrInvalidComment   = errors.New("invalid comment")
)

// Unlimited is the quota reported when max_comments is unset.
const Unlimited = math.MaxInt

const (
	DefaultLockTimeout  = 2 * time.Second
	DefaultPollInterval = 25 * time.Millisecond
)

// CanComment reports whether the resolved policy accepts annotations.
func CanComment(resolved *policy.Resolved) bool {
	return resolved.CommentsAllowed()
}

// RemainingQuota is how many more annotations fit in a file already
// holding current ones. Negative means over quota.
func RemainingQuota(resolved *policy.Resolved, current uint) int {
	if resolved == nil || resolved.MaxComments == nil {
		return Unlimited
	}
	return int(*resolved.MaxComments) - int(current)
}

// Count returns the number of ledger lines in content.
func Count(content []byte) uint {
	return uint(len(policy.Parse(content).Comments))
}

// Attributed prefixes text with its author, when there is one.
func Attributed(author, text string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		return text
	}
	return author + ": " + text
}

// FormatEntry turns free text into a single ledger line.
func FormatEntry(text string) (string, error) {
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidComment)
	}
	line := policy.LedgerMarker + " " + text
	if !policy.IsLedgerLine(line) {
		return "", fmt.Errorf("%w: text must not start with a directive", ErrInvalidComment)
	}
	return line, nil
}

// Observer receives append outcomes.
type Observer interface {
	ObserveLedgerAppend(outcome string)
}

// Ledger writes annotations under an exclusive per-file lock.
type Ledger struct {
	LockTimeout  time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	Observer     Observer
	// OnAppend runs after a successful write, e.g. to drop cache entries.
	OnAppend func(path string)
}

// New creates a Ledger with default timeouts.
func New() *Ledger {
	return &Ledger{
		LockTimeout:  DefaultLockTimeout,
		PollInterval: DefaultPollInterval,
		Logger:       slog.Default(),
	}
}

// Append adds text as one new line at the end of the policy file at path.
// The quota comes from resolved but is counted against this file only.
// It never creates the file and never rewrites existing content.
func (l *Ledger) Append(path string, resolved *policy.Resolved, text string) error {
	err := l.append(path, resolved, text)
	l.observe(err)
	return err
}

func (l *Ledger) append(path string, resolved *policy.Resolved, text string) error {
	if path == "" {
		return ErrNoPolicyFile
	}
	if !CanComment(resolved) {
		return ErrCommentsDisabled
	}
	line, err := FormatEntry(text)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoPolicyFile, path)
		}
		return fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	unlock, err := lockFile(f, l.lockTimeout(), l.pollInterval())
	if err != nil {
		if errors.Is(err, ErrLedgerBusy) {
			l.logger().Debug("policy file lock contended", "file", path, "timeout", l.lockTimeout())
		}
		return err
	}
	defer unlock()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	if RemainingQuota(resolved, Count(data)) <= 0 {
		return fmt.Errorf("%w: %s", ErrLedgerFull, path)
	}

	entry := line + "\n"
	if len(data) > 0 && data[len(data)-1] != '\n' {
		entry = "\n" + entry
	}
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append comment: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync policy file: %w", err)
	}

	if l.OnAppend != nil {
		l.OnAppend(path)
	}
	return nil
}

func (l *Ledger) observe(err error) {
	if l.Observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrLedgerFull):
		outcome = "full"
	case errors.Is(err, ErrLedgerBusy):
		outcome = "busy"
	case errors.Is(err, ErrCommentsDisabled):
		outcome = "disabled"
	case errors.Is(err, ErrNoPolicyFile):
		outcome = "no_policy_file"
	default:
		outcome = "error"
	}
	l.Observer.ObserveLedgerAppend(outcome)
}

func (l *Ledger) lockTimeout() time.Duration {
	if l.LockTimeout <= 0 {
		return DefaultLockTimeout
	}
	return l.LockTimeout
}

func (l *Ledger) pollInterval() time.Duration {
	if l.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return l.PollInterval
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
