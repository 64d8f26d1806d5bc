package policy

import (
	"fmt"
	"strconv"
	"strings"
)

const unsetMarker = "unset"

// Explain renders the denial text for req. With explain_on_error false
// only the one-line header is returned.
func Explain(r *Resolved, req Request, cause DenyReason) string {
	header := headline(req)
	if !r.Explains() {
		return header
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString(": ")
	b.WriteString(cause.String())
	b.WriteString("\n")

	if len(r.Description) > 0 {
		b.WriteString("Policy:\n")
		for _, line := range r.Description {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("Summary: ")
	b.WriteString(Summary(r))

	for _, p := range r.Prompts {
		b.WriteString("\nPrompt: ")
		b.WriteString(p)
	}
	return b.String()
}

// Summary is the machine-readable line listing the restriction fields.
// Fields no file set render as "unset".
func Summary(r *Resolved) string {
	return fmt.Sprintf("whitelist=%s blacklist=%s lock_new_dirs=%s lock_writes=%s explain_on_error=%s",
		r.Whitelist, r.Blacklist, fmtBool(r.LockNewDirs), fmtBool(r.LockWrites), fmtBool(r.ExplainOnError))
}

// Describe renders the whole resolved policy for display.
func Describe(r *Resolved) string {
	var b strings.Builder
	if r.Empty() {
		b.WriteString("no policy applies\n")
		return b.String()
	}
	for _, src := range r.Sources {
		fmt.Fprintf(&b, "source: %s\n", src)
	}
	for _, line := range r.Description {
		fmt.Fprintf(&b, "description: %s\n", line)
	}
	for _, p := range r.Prompts {
		fmt.Fprintf(&b, "prompt: %s\n", p)
	}
	fmt.Fprintf(&b, "summary: %s\n", Summary(r))
	fmt.Fprintf(&b, "comments: allow=%s max=%s\n", fmtBool(r.AllowComments), fmtUint(r.MaxComments))
	for _, p := range r.CommentPrompts {
		fmt.Fprintf(&b, "comment_prompt: %s\n", p)
	}
	return b.String()
}

func headline(req Request) string {
	subject := strconv.Quote(req.Command)
	if req.Command == "" {
		subject = req.Kind.String()
	}
	return fmt.Sprintf("ward: %s denied in %s", subject, req.Target)
}

func fmtBool(b *bool) string {
	if b == nil {
		return unsetMarker
	}
	return strconv.FormatBool(*b)
}

func fmtUint(u *uint) string {
	if u == nil {
		return unsetMarker
	}
	return strconv.FormatUint(uint64(*u), 10)
}
