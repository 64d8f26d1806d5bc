// Package policy parses ward policy files, merges them along a directory
// chain and decides whether a command may run under the merged result.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedValue marks a recognized directive whose value failed type
// validation. The directive is treated as unset.
var ErrMalformedValue = errors.New("malformed directive value")

// Directive names recognized in policy files.
const (
	DirDescription    = "description"
	DirPrompt         = "prompt"
	DirWhitelist      = "whitelist"
	DirBlacklist      = "blacklist"
	DirLockNewDirs    = "lock_new_dirs"
	DirLockWrites     = "lock_writes"
	DirAllowComments  = "allow_comments"
	DirMaxComments    = "max_comments"
	DirCommentPrompt  = "comment_prompt"
	DirExplainOnError = "explain_on_error"
)

// LedgerMarker starts every annotation line.
const LedgerMarker = "#"

// CommandSet is a set of command names. A nil set means the directive was
// never declared; a non-nil empty set means it was declared with no names.
type CommandSet map[string]struct{}

// NewCommandSet builds a declared set from names, dropping empty ones.
func NewCommandSet(names ...string) CommandSet {
	s := make(CommandSet, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		s[n] = struct{}{}
	}
	return s
}

// Declared reports whether the directive that produced the set was present.
func (s CommandSet) Declared() bool {
	return s != nil
}

// Has reports whether name is a member.
func (s CommandSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members sorted.
func (s CommandSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s CommandSet) String() string {
	if !s.Declared() {
		return unsetMarker
	}
	return "[" + strings.Join(s.Names(), " ") + "]"
}

// Issue records a line that could not be applied as written.
type Issue struct {
	Line      int
	Directive string
	Value     string
	Err       error
}

func (i Issue) Error() string {
	return fmt.Sprintf("line %d: @%s: %q: %v", i.Line, i.Directive, i.Value, i.Err)
}

func (i Issue) Unwrap() error {
	return i.Err
}

// Directives is the parsed content of one policy file. Pointer fields are
// nil when the file does not set them.
type Directives struct {
	Description    []string
	Prompt         string
	Whitelist      CommandSet
	Blacklist      CommandSet
	LockNewDirs    *bool
	LockWrites     *bool
	AllowComments  *bool
	MaxComments    *uint
	CommentPrompt  string
	ExplainOnError *bool

	// Comments holds ledger lines exactly as they appear in the file.
	Comments []string

	// Issues lists directives skipped because of malformed values.
	Issues []Issue
}

func boolPtr(b bool) *bool {
	return &b
}

func uintPtr(u uint) *uint {
	return &u
}
