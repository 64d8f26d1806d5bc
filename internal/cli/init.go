// Package cli provides CLI command implementations.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPolicyExists is returned when a command would overwrite a policy file.
var ErrPolicyExists = errors.New("policy file already exists")

// DefaultDescription is used by init when no description is given.
const DefaultDescription = "AI-Assisted Development Project"

// RunInit creates a starter policy file in dir, creating dir if needed.
// It never overwrites an existing policy file.
func RunInit(w io.Writer, dir, fileName, description string) (string, error) {
	if description == "" {
		description = DefaultDescription
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create directory: %w", err)
	}
	path, err := plant(dir, fileName, fmt.Sprintf(defaultPolicy, oneLine(description)), false)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(w, "Created policy: %s\n", path)
	return path, nil
}

// RunLock plants a policy that forbids new directories and file writes.
func RunLock(w io.Writer, dir, fileName, message string, force bool) (string, error) {
	return runLock(w, dir, fileName, "LOCKED: "+oneLine(message), true, force)
}

// RunUnlock plants a policy that lifts both locks.
func RunUnlock(w io.Writer, dir, fileName, message string, force bool) (string, error) {
	return runLock(w, dir, fileName, "UNLOCKED: "+oneLine(message), false, force)
}

func runLock(w io.Writer, dir, fileName, description string, locked, force bool) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("cannot stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	content := fmt.Sprintf(lockPolicy, description, locked, locked)
	path, err := plant(dir, fileName, content, force)
	if err != nil {
		return "", err
	}
	state := "Locked"
	if !locked {
		state = "Unlocked"
	}
	fmt.Fprintf(w, "%s: %s\n", state, path)
	return path, nil
}

func plant(dir, fileName, content string, force bool) (string, error) {
	path := filepath.Join(dir, fileName)
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrPolicyExists, path)
		}
		return "", fmt.Errorf("cannot write policy: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", fmt.Errorf("cannot write policy: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("cannot write policy: %w", err)
	}
	return path, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

const defaultPolicy = `@description: %s
@whitelist: ls cat pwd echo grep sed awk git python npm node code vim mkdir
@blacklist: rm sudo su chmod chown docker kubectl
@allow_comments: true
@max_comments: 5
@comment_prompt: "Explain changes from a security perspective"
`

const lockPolicy = `@description: %s
@lock_new_dirs: %t
@lock_writes: %t
`
