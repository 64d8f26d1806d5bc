package hook

import (
	"os"
	"path/filepath"
	"strings"
)

// protectedDirs are never writable through agent tools, so an agent
// cannot edit the configuration that governs it.
var protectedDirs = []string{
	"~/.config/ward/",
}

// protectedFilenames are protected in any directory, in addition to the
// configured policy file name.
var protectedFilenames = []string{
	".ward.yml",
}

// isProtected reports whether p names a policy file, a ward config file,
// or something under the global config directory.
func isProtected(p, policyFile string) bool {
	if p == "" {
		return false
	}

	filename := filepath.Base(p)
	if filename == policyFile {
		return true
	}
	for _, protected := range protectedFilenames {
		if filename == protected {
			return true
		}
	}

	for _, pattern := range protectedDirs {
		dir := expandHome(strings.TrimSuffix(pattern, "/"))
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// resolvePath makes p absolute against cwd.
func resolvePath(p, cwd string) string {
	p = expandHome(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	return filepath.Clean(p)
}
