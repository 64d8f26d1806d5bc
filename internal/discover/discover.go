// Package discover finds the policy files that apply to a path by walking
// its ancestors up to a root boundary.
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yamonco/ward/internal/policy"
)

// DefaultPolicyFile is the conventional policy file name.
const DefaultPolicyFile = ".ward"

var (
	// ErrPathOutsideScope means the target is not under the root boundary.
	ErrPathOutsideScope = errors.New("path outside scope")
	// ErrRelativePath means a path that must be absolute was not.
	ErrRelativePath = errors.New("path is not absolute")
)

// Loader turns a policy file path into its directives. Implementations
// return an error wrapping fs.ErrNotExist when the file is absent.
type Loader interface {
	Load(path string) (*policy.Directives, error)
}

// FileLoader reads and parses policy files on every call.
type FileLoader struct{}

// Load reads and parses the file at path.
func (FileLoader) Load(path string) (*policy.Directives, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return policy.Parse(data), nil
}

// Discoverer walks directory ancestry looking for policy files.
type Discoverer struct {
	Root     string
	FileName string
	Loader   Loader
	Logger   *slog.Logger
}

// New creates a Discoverer bounded by root. A nil loader reads files
// directly.
func New(root string, loader Loader) *Discoverer {
	if loader == nil {
		loader = FileLoader{}
	}
	return &Discoverer{
		Root:     root,
		FileName: DefaultPolicyFile,
		Loader:   loader,
		Logger:   slog.Default(),
	}
}

// Discover returns the chain of policy files applying to target,
// outermost first. A target that is a file, or does not exist, starts
// the walk at its parent directory.
func (d *Discoverer) Discover(target string) (policy.Chain, error) {
	dirs, err := d.Ancestors(target)
	if err != nil {
		return nil, err
	}

	var chain policy.Chain
	for i := len(dirs) - 1; i >= 0; i-- {
		path := filepath.Join(dirs[i], d.fileName())
		directives, err := d.Loader.Load(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if !isRegular(path) {
				d.logger().Debug("skipping non-regular policy path", "path", path)
				continue
			}
			return nil, fmt.Errorf("load policy %s: %w", path, err)
		}
		for _, issue := range directives.Issues {
			d.logger().Warn("skipping malformed directive",
				"file", path, "line", issue.Line, "directive", issue.Directive, "error", issue.Err)
		}
		chain = append(chain, policy.Entry{Path: path, Directives: directives})
	}
	return chain, nil
}

// Ancestors lists the directories checked for target, innermost first,
// ending at the root boundary.
func (d *Discoverer) Ancestors(target string) ([]string, error) {
	root, err := absClean(d.Root)
	if err != nil {
		return nil, fmt.Errorf("root boundary: %w", err)
	}
	target, err = absClean(target)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	if !IsWithin(target, root) {
		return nil, fmt.Errorf("%w: %s is not under %s", ErrPathOutsideScope, target, root)
	}

	dir := startDir(target)
	if !IsWithin(dir, root) {
		dir = root
	}

	var dirs []string
	for {
		dirs = append(dirs, dir)
		if dir == root {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return dirs, nil
}

// IsWithin reports whether path equals root or lies below it. Both must
// be clean absolute paths.
func IsWithin(path, root string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

func (d *Discoverer) fileName() string {
	if d.FileName == "" {
		return DefaultPolicyFile
	}
	return d.FileName
}

func (d *Discoverer) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// startDir is target itself when it is an existing directory, its parent
// otherwise.
// isRegular reports whether path exists as a regular file. A directory
// or device that happens to carry the policy file name is not a policy.
func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func startDir(target string) string {
	info, err := os.Stat(target)
	if err == nil && info.IsDir() {
		return target
	}
	return filepath.Dir(target)
}

func absClean(p string) (string, error) {
	if p == "" || !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q", ErrRelativePath, p)
	}
	return filepath.Clean(p), nil
}
