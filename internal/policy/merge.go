package policy

// Entry is one policy file in a chain.
type Entry struct {
	Path       string
	Directives *Directives
}

// Chain lists the policy files that apply to a path, outermost first.
type Chain []Entry

// Nearest returns the path of the innermost policy file, or "" for an
// empty chain.
func (c Chain) Nearest() string {
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1].Path
}

// Resolved is the result of merging a chain. Text fields accumulate
// across every file; list and scalar fields hold the value from the
// innermost file that set them.
type Resolved struct {
	Description    []string
	Prompts        []string
	CommentPrompts []string
	Whitelist      CommandSet
	Blacklist      CommandSet
	LockNewDirs    *bool
	LockWrites     *bool
	AllowComments  *bool
	MaxComments    *uint
	ExplainOnError *bool

	// Sources are the merged policy file paths, outermost first.
	Sources []string
}

// Merge folds the chain root-to-leaf into a single policy.
func Merge(chain Chain) *Resolved {
	r := &Resolved{}
	for _, e := range chain {
		d := e.Directives
		if d == nil {
			continue
		}
		r.Sources = append(r.Sources, e.Path)

		for _, line := range d.Description {
			if line != "" {
				r.Description = append(r.Description, line)
			}
		}
		if d.Prompt != "" {
			r.Prompts = append(r.Prompts, d.Prompt)
		}
		if d.CommentPrompt != "" {
			r.CommentPrompts = append(r.CommentPrompts, d.CommentPrompt)
		}

		// Presence, not content, decides the override: a child that
		// declares an empty whitelist lifts the parent's restriction.
		if d.Whitelist.Declared() {
			r.Whitelist = d.Whitelist
		}
		if d.Blacklist.Declared() {
			r.Blacklist = d.Blacklist
		}

		if d.LockNewDirs != nil {
			r.LockNewDirs = d.LockNewDirs
		}
		if d.LockWrites != nil {
			r.LockWrites = d.LockWrites
		}
		if d.AllowComments != nil {
			r.AllowComments = d.AllowComments
		}
		if d.MaxComments != nil {
			r.MaxComments = d.MaxComments
		}
		if d.ExplainOnError != nil {
			r.ExplainOnError = d.ExplainOnError
		}
	}
	return r
}

// Empty reports whether no policy file contributed to r.
func (r *Resolved) Empty() bool {
	return r == nil || len(r.Sources) == 0
}

// Explains reports whether denials carry the full explanation. It
// defaults to true when no file set explain_on_error.
func (r *Resolved) Explains() bool {
	if r == nil || r.ExplainOnError == nil {
		return true
	}
	return *r.ExplainOnError
}

// CommentsAllowed reports whether some file enabled annotations.
func (r *Resolved) CommentsAllowed() bool {
	return r != nil && r.AllowComments != nil && *r.AllowComments
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
