package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse reads the content of one policy file. It never fails: unclassified
// lines become description text, unknown directives are ignored and
// malformed values are reported in Issues and otherwise skipped.
func Parse(content []byte) *Directives {
	d := &Directives{}

	for i, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, LedgerMarker) {
			// "# @name: value" is a disabled directive, not an annotation.
			if IsDisabledDirective(line) {
				continue
			}
			d.Comments = append(d.Comments, line)
			continue
		}

		if strings.HasPrefix(line, "@") {
			name, value, ok := strings.Cut(line[1:], ":")
			if !ok {
				continue
			}
			d.apply(i+1, strings.TrimSpace(name), strings.TrimSpace(value))
			continue
		}

		d.Description = append(d.Description, line)
	}

	return d
}

// IsLedgerLine reports whether a single line counts as an annotation.
func IsLedgerLine(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, LedgerMarker) && !IsDisabledDirective(line)
}

// IsDisabledDirective reports whether line is a commented-out directive.
func IsDisabledDirective(line string) bool {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), LedgerMarker))
	return strings.HasPrefix(body, "@")
}

func (d *Directives) apply(lineNo int, name, value string) {
	switch name {
	case DirDescription:
		if v := unquote(value); v != "" {
			d.Description = append(d.Description, v)
		}
	case DirPrompt:
		d.Prompt = unquote(value)
	case DirCommentPrompt:
		d.CommentPrompt = unquote(value)
	case DirWhitelist:
		d.Whitelist = NewCommandSet(strings.Fields(value)...)
	case DirBlacklist:
		d.Blacklist = NewCommandSet(strings.Fields(value)...)
	case DirLockNewDirs:
		d.setBool(&d.LockNewDirs, lineNo, name, value)
	case DirLockWrites:
		d.setBool(&d.LockWrites, lineNo, name, value)
	case DirAllowComments:
		d.setBool(&d.AllowComments, lineNo, name, value)
	case DirExplainOnError:
		d.setBool(&d.ExplainOnError, lineNo, name, value)
	case DirMaxComments:
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			d.issue(lineNo, name, value, fmt.Errorf("%w: want a non-negative integer", ErrMalformedValue))
			return
		}
		d.MaxComments = uintPtr(uint(n))
	}
}

func (d *Directives) setBool(field **bool, lineNo int, name, value string) {
	switch value {
	case "true":
		*field = boolPtr(true)
	case "false":
		*field = boolPtr(false)
	default:
		d.issue(lineNo, name, value, fmt.Errorf("%w: want true or false", ErrMalformedValue))
	}
}

func (d *Directives) issue(lineNo int, name, value string, err error) {
	d.Issues = append(d.Issues, Issue{Line: lineNo, Directive: name, Value: value, Err: err})
}

// unquote strips one pair of surrounding double quotes.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
