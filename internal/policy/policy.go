package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Verdict is the outcome of an authorization check.
type Verdict int

const (
	Allow Verdict = iota
	Deny
)

func (v Verdict) String() string {
	if v == Deny {
		return "deny"
	}
	return "allow"
}

// Kind classifies the operation a command performs.
type Kind int

const (
	Generic Kind = iota
	DirectoryCreate
	FileWrite
)

func (k Kind) String() string {
	switch k {
	case DirectoryCreate:
		return "mkdir"
	case FileWrite:
		return "write"
	default:
		return "generic"
	}
}

// ErrUnknownKind is returned by ParseKind for names it does not know.
var ErrUnknownKind = errors.New("unknown operation kind")

// ParseKind maps a kind name back to a Kind. The empty name is Generic.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "generic":
		return Generic, nil
	case "mkdir", "dir", "directory_create":
		return DirectoryCreate, nil
	case "write", "file_write":
		return FileWrite, nil
	default:
		return Generic, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// DenyReason says which rule produced a denial.
type DenyReason int

const (
	ReasonNone DenyReason = iota
	ReasonNotWhitelisted
	ReasonBlacklisted
	ReasonNewDirLocked
	ReasonWritesLocked
)

func (r DenyReason) String() string {
	switch r {
	case ReasonNotWhitelisted:
		return "command is not in the whitelist"
	case ReasonBlacklisted:
		return "command is blacklisted"
	case ReasonNewDirLocked:
		return "creating new directories is locked"
	case ReasonWritesLocked:
		return "writes are locked"
	default:
		return "none"
	}
}

// Code is a stable label for the reason, suitable for metrics and JSON.
func (r DenyReason) Code() string {
	switch r {
	case ReasonNotWhitelisted:
		return "not_whitelisted"
	case ReasonBlacklisted:
		return "blacklisted"
	case ReasonNewDirLocked:
		return "new_dir_locked"
	case ReasonWritesLocked:
		return "writes_locked"
	default:
		return ""
	}
}

// Request is a single operation to authorize.
type Request struct {
	// Command is the command name. Paths are reduced to their base name.
	// An empty command names no command and skips the list rules.
	Command string
	// Target is the absolute path the operation acts on.
	Target string
	Kind   Kind
}

// Decision is the result of evaluating a request against a policy.
type Decision struct {
	Verdict Verdict
	Cause   DenyReason
	// Reason is the text shown to the user on denial. It is empty for
	// Allow.
	Reason string
}

// Allowed reports whether the verdict is Allow.
func (d Decision) Allowed() bool {
	return d.Verdict == Allow
}

// rule returns a non-zero reason when it denies the request.
type rule func(r *Resolved, req Request) DenyReason

// rules run in order; the first denial decides.
var rules = []rule{
	notWhitelisted,
	blacklisted,
	newDirLocked,
	writesLocked,
}

// pathExists is replaced in tests.
var pathExists = func(p string) bool {
	_, err := os.Lstat(p)
	return !errors.Is(err, fs.ErrNotExist)
}

// Decide evaluates command against the resolved policy.
//
// Evaluation:
//  1. whitelist declared non-empty and command not in it = DENY
//  2. blacklist non-empty and command in it = DENY
//  3. directory creation, lock_new_dirs true and target missing = DENY
//  4. file write and lock_writes true = DENY
//  5. otherwise ALLOW
//
// An empty chain always allows.
func Decide(resolved *Resolved, command, target string, kind Kind) Decision {
	return Evaluate(resolved, Request{Command: command, Target: target, Kind: kind})
}

// Evaluate is Decide over a Request.
func Evaluate(resolved *Resolved, req Request) Decision {
	if resolved.Empty() {
		return Decision{Verdict: Allow}
	}
	req.Command = CommandName(req.Command)

	for _, check := range rules {
		if cause := check(resolved, req); cause != ReasonNone {
			return Decision{
				Verdict: Deny,
				Cause:   cause,
				Reason:  Explain(resolved, req, cause),
			}
		}
	}
	return Decision{Verdict: Allow}
}

// CommandName reduces a command token to the name matched against lists.
func CommandName(command string) string {
	if command == "" {
		return ""
	}
	return filepath.Base(command)
}

func notWhitelisted(r *Resolved, req Request) DenyReason {
	if req.Command == "" || len(r.Whitelist) == 0 {
		return ReasonNone
	}
	if !r.Whitelist.Has(req.Command) {
		return ReasonNotWhitelisted
	}
	return ReasonNone
}

func blacklisted(r *Resolved, req Request) DenyReason {
	if req.Command == "" || len(r.Blacklist) == 0 {
		return ReasonNone
	}
	if r.Blacklist.Has(req.Command) {
		return ReasonBlacklisted
	}
	return ReasonNone
}

func newDirLocked(r *Resolved, req Request) DenyReason {
	if req.Kind != DirectoryCreate || !isTrue(r.LockNewDirs) {
		return ReasonNone
	}
	if pathExists(req.Target) {
		return ReasonNone
	}
	return ReasonNewDirLocked
}

func writesLocked(r *Resolved, req Request) DenyReason {
	if req.Kind == FileWrite && isTrue(r.LockWrites) {
		return ReasonWritesLocked
	}
	return ReasonNone
}
