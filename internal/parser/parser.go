// Package parser provides shell command parsing utilities.
package parser

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Command represents one parsed simple command.
type Command struct {
	Raw     string
	Env     map[string]string
	Program string
	// Args holds operands in order. Everything after "--" is an operand.
	Args  []string
	Flags map[string]string
	// Words holds every token after Program in its original order, so
	// callers that know a flag's arity can pair it with its value.
	Words []string
}

var envVarPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// Parse parses a single command (no separators) into its components.
// Flag values are only taken from the "--flag=value" form; a following
// token is always kept as an operand.
func Parse(cmd string) Command {
	result := Command{
		Raw:   cmd,
		Env:   make(map[string]string),
		Args:  make([]string, 0),
		Flags: make(map[string]string),
	}

	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return result
	}

	tokens := tokenize(cmd)
	if len(tokens) == 0 {
		return result
	}

	idx := 0

	// Extract leading environment variables
	for idx < len(tokens) {
		if match := envVarPattern.FindStringSubmatch(tokens[idx]); match != nil {
			result.Env[match[1]] = match[2]
			idx++
		} else {
			break
		}
	}

	if idx >= len(tokens) {
		return result
	}

	result.Program = tokens[idx]
	idx++
	result.Words = tokens[idx:]

	operandsOnly := false
	for ; idx < len(tokens); idx++ {
		token := tokens[idx]
		switch {
		case operandsOnly:
			result.Args = append(result.Args, token)
		case token == "--":
			operandsOnly = true
		case strings.HasPrefix(token, "-") && token != "-":
			key, value := parseFlag(token)
			result.Flags[key] = value
		default:
			result.Args = append(result.Args, token)
		}
	}

	return result
}

// Name returns the program's base name.
func (c Command) Name() string {
	if c.Program == "" {
		return ""
	}
	return filepath.Base(c.Program)
}

// String returns the original raw command.
func (c Command) String() string {
	return c.Raw
}

// ParseLine splits a command line into segments and parses each one.
// Empty segments are dropped.
func ParseLine(line string) []Command {
	var cmds []Command
	for _, seg := range Segments(line) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		cmds = append(cmds, Parse(seg))
	}
	return cmds
}

// Segments splits a shell command line by |, ||, &&, ; and newlines.
// Separators inside quotes are kept.
func Segments(cmd string) []string {
	var segments []string
	var current strings.Builder
	i := 0

	for i < len(cmd) {
		ch := cmd[i]

		switch ch {
		case '|':
			segments = append(segments, current.String())
			current.Reset()
			// Skip || (treat as single separator)
			if i+1 < len(cmd) && cmd[i+1] == '|' {
				i++
			}
		case '&':
			if i+1 < len(cmd) && cmd[i+1] == '&' {
				segments = append(segments, current.String())
				current.Reset()
				i++
			} else {
				// Background &, still part of current segment
				current.WriteByte(ch)
			}
		case ';', '\n':
			segments = append(segments, current.String())
			current.Reset()
		case '\'', '"':
			quote := ch
			current.WriteByte(ch)
			i++
			for i < len(cmd) && cmd[i] != quote {
				if cmd[i] == '\\' && quote == '"' && i+1 < len(cmd) {
					current.WriteByte(cmd[i])
					i++
				}
				if i < len(cmd) {
					current.WriteByte(cmd[i])
					i++
				}
			}
			if i < len(cmd) {
				current.WriteByte(cmd[i])
			}
		default:
			current.WriteByte(ch)
		}
		i++
	}

	if current.Len() > 0 {
		segments = append(segments, current.String())
	}

	return segments
}

// tokenize splits a command string into tokens, respecting quotes.
func tokenize(cmd string) []string {
	var tokens []string
	var current strings.Builder
	inSingleQuote := false
	inDoubleQuote := false
	escaped := false
	// quoted tracks tokens like "" that are empty but present.
	quoted := false

	flush := func() {
		if current.Len() > 0 || quoted {
			tokens = append(tokens, current.String())
			current.Reset()
		}
		quoted = false
	}

	for _, r := range cmd {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		switch r {
		case '\\':
			if inSingleQuote {
				current.WriteRune(r)
			} else {
				escaped = true
			}
		case '\'':
			if !inDoubleQuote {
				inSingleQuote = !inSingleQuote
				quoted = true
			} else {
				current.WriteRune(r)
			}
		case '"':
			if !inSingleQuote {
				inDoubleQuote = !inDoubleQuote
				quoted = true
			} else {
				current.WriteRune(r)
			}
		case ' ', '\t':
			if inSingleQuote || inDoubleQuote {
				current.WriteRune(r)
			} else {
				flush()
			}
		default:
			current.WriteRune(r)
		}
	}

	flush()

	return tokens
}

// parseFlag parses a flag token into key and value.
func parseFlag(token string) (string, string) {
	if idx := strings.Index(token, "="); idx != -1 {
		return token[:idx], token[idx+1:]
	}
	return token, ""
}
