package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// workspace is a temp root with a config that keeps audit lines off stderr.
type workspace struct {
	root   string
	config string
}

func newWorkspace(t *testing.T, files map[string]string) workspace {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(cfgPath, []byte("audit:\n  enabled: false\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return workspace{root: root, config: cfgPath}
}

func (w workspace) run(t *testing.T, stdin string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	full := append([]string{"--config", w.config, "--root", w.root}, args...)
	exitCode = run(full, strings.NewReader(stdin), &outBuf, &errBuf)
	return outBuf.String(), errBuf.String(), exitCode
}

func (w workspace) path(rel string) string {
	return filepath.Join(w.root, rel)
}

func TestCheck(t *testing.T) {
	w := newWorkspace(t, map[string]string{
		".ward":        "@description: Project rules\n@blacklist: rm\n",
		"locked/.ward": "@lock_new_dirs: true\n@lock_writes: true\n@explain_on_error: false\n",
	})

	tests := []struct {
		name     string
		args     []string
		wantExit int
		wantOut  string
		wantErr  string
	}{
		{"allowed", []string{"check", w.root, "ls"}, 0, "ALLOW", ""},
		{"blacklisted", []string{"check", w.root, "rm"}, 2, "", "Project rules"},
		{"mkdir locked", []string{"check", "--mkdir", w.path("locked/new")}, 2, "", "ward: mkdir denied in " + w.path("locked/new")},
		{"write locked", []string{"check", "--write", w.path("locked/file.txt")}, 2, "", "ward: write denied in"},
		{"outside root", []string{"check", filepath.Dir(w.root), "ls"}, 1, "", "outside"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := w.run(t, "", tt.args...)

			if exitCode != tt.wantExit {
				t.Errorf("exit = %d, want %d (stderr: %s)", exitCode, tt.wantExit, stderr)
			}
			if tt.wantOut != "" && !strings.Contains(stdout, tt.wantOut) {
				t.Errorf("stdout = %q, want it to contain %q", stdout, tt.wantOut)
			}
			if tt.wantErr != "" && !strings.Contains(stderr, tt.wantErr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.wantErr)
			}
		})
	}
}

func TestCheckExplainOff(t *testing.T) {
	w := newWorkspace(t, map[string]string{
		".ward": "@description: Hidden\n@blacklist: rm\n@explain_on_error: false\n",
	})

	_, stderr, exitCode := w.run(t, "", "check", w.root, "rm")

	if exitCode != 2 {
		t.Fatalf("exit = %d, want 2", exitCode)
	}
	want := `ward: "rm" denied in ` + w.root + "\n"
	if stderr != want {
		t.Errorf("stderr = %q, want %q", stderr, want)
	}
}

func TestDenyStderrCarriesOnlyReason(t *testing.T) {
	w := newWorkspace(t, map[string]string{
		".ward": "@blacklist: rm\n@explain_on_error: false\n",
	})
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)
	if err := os.WriteFile(w.config, []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	want := `ward: "rm" denied in ` + w.root + "\n"

	_, stderr, exitCode := w.run(t, "", "check", w.root, "rm")
	if exitCode != 2 || stderr != want {
		t.Errorf("check = (%q, %d), want (%q, 2)", stderr, exitCode, want)
	}

	input := makeInput(t, "Bash", map[string]interface{}{"command": "rm -rf build"}, w.root)
	_, stderr, exitCode = w.run(t, input, "hook")
	if exitCode != 2 || stderr != want {
		t.Errorf("hook = (%q, %d), want (%q, 2)", stderr, exitCode, want)
	}

	data, err := os.ReadFile(filepath.Join(state, "ward", "audit.log"))
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if got := strings.Count(string(data), `"verdict":"deny"`); got != 2 {
		t.Errorf("audit log has %d denials, want 2:\n%s", got, data)
	}
}

func TestInfo(t *testing.T) {
	w := newWorkspace(t, map[string]string{
		".ward":     "@description: Root\n@whitelist: ls git\n",
		"sub/.ward": "@description: Sub\n",
	})

	stdout, stderr, exitCode := w.run(t, "", "info", w.path("sub"))

	if exitCode != 0 {
		t.Fatalf("exit = %d, stderr: %s", exitCode, stderr)
	}
	for _, want := range []string{"config: " + w.config, "description: Root", "description: Sub", "whitelist=[git ls]", "blacklist=unset"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("info output missing %q:\n%s", want, stdout)
		}
	}
}

func TestCommentCommand(t *testing.T) {
	w := newWorkspace(t, map[string]string{
		".ward": "@allow_comments: true\n@max_comments: 1\n",
	})

	_, stderr, exitCode := w.run(t, "", "comment", "--author", "dev", w.root, "reviewed", "the", "lock")
	if exitCode != 0 {
		t.Fatalf("exit = %d, stderr: %s", exitCode, stderr)
	}

	_, stderr, exitCode = w.run(t, "", "comment", w.root, "one more")
	if exitCode != 1 {
		t.Errorf("exit = %d, want 1 when the ledger is full", exitCode)
	}
	if !strings.Contains(stderr, "quota") {
		t.Errorf("stderr = %q, want quota error", stderr)
	}

	data, _ := os.ReadFile(w.path(".ward"))
	if !strings.HasSuffix(string(data), "# dev: reviewed the lock\n") {
		t.Errorf("policy file = %q", data)
	}
}

func TestValidateCommand(t *testing.T) {
	w := newWorkspace(t, map[string]string{
		".ward":    "@max_comments: many\n",
		"ok/.ward": "@max_comments: 3\n",
	})

	stdout, _, exitCode := w.run(t, "", "validate", w.root)
	if exitCode != 1 {
		t.Errorf("exit = %d, want 1", exitCode)
	}
	if !strings.Contains(stdout, "line 1: @max_comments") {
		t.Errorf("stdout = %q", stdout)
	}

	stdout, _, exitCode = w.run(t, "", "validate", w.path("ok"))
	if exitCode != 0 || strings.TrimSpace(stdout) != "OK" {
		t.Errorf("validate ok = (%q, %d)", stdout, exitCode)
	}
}

func TestInitAndLock(t *testing.T) {
	w := newWorkspace(t, nil)
	dir := w.path("project")

	if _, stderr, exitCode := w.run(t, "", "init", dir, "--description", "Demo"); exitCode != 0 {
		t.Fatalf("init exit = %d, stderr: %s", exitCode, stderr)
	}
	if _, _, exitCode := w.run(t, "", "init", dir); exitCode != 1 {
		t.Errorf("second init exit = %d, want 1", exitCode)
	}

	if _, _, exitCode := w.run(t, "", "lock", dir, "-m", "freeze"); exitCode != 1 {
		t.Errorf("lock over existing policy exit = %d, want 1", exitCode)
	}
	if _, stderr, exitCode := w.run(t, "", "lock", dir, "-m", "freeze", "--force"); exitCode != 0 {
		t.Fatalf("forced lock exit = %d, stderr: %s", exitCode, stderr)
	}

	_, stderr, exitCode := w.run(t, "", "check", "--mkdir", filepath.Join(dir, "new"), "mkdir")
	if exitCode != 2 {
		t.Errorf("mkdir under lock exit = %d, want 2", exitCode)
	}
	if !strings.Contains(stderr, "LOCKED: freeze") {
		t.Errorf("stderr = %q, want lock description", stderr)
	}

	if _, stderr, exitCode := w.run(t, "", "unlock", dir, "-m", "thaw", "--force"); exitCode != 0 {
		t.Fatalf("unlock exit = %d, stderr: %s", exitCode, stderr)
	}
	if _, _, exitCode := w.run(t, "", "check", "--mkdir", filepath.Join(dir, "new"), "mkdir"); exitCode != 0 {
		t.Errorf("mkdir after unlock exit = %d, want 0", exitCode)
	}
}

func makeInput(t *testing.T, tool string, toolInput map[string]interface{}, cwd string) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"hook_event_name": "PreToolUse",
		"tool_name":       tool,
		"tool_input":      toolInput,
		"cwd":             cwd,
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestHook(t *testing.T) {
	w := newWorkspace(t, map[string]string{
		".ward":        "@blacklist: rm\n",
		"vendor/.ward": "@lock_writes: true\n",
	})

	tests := []struct {
		name     string
		input    string
		wantExit int
	}{
		{"allowed bash", makeInput(t, "Bash", map[string]interface{}{"command": "ls -la && git status"}, w.root), 0},
		{"blacklisted in chain", makeInput(t, "Bash", map[string]interface{}{"command": "ls && rm -rf build"}, w.root), 2},
		{"write allowed", makeInput(t, "Write", map[string]interface{}{"file_path": "main.go"}, w.root), 0},
		{"write locked", makeInput(t, "Edit", map[string]interface{}{"file_path": "vendor/lib.go"}, w.root), 2},
		{"policy file protected", makeInput(t, "Write", map[string]interface{}{"file_path": ".ward"}, w.root), 2},
		{"other tool", makeInput(t, "Read", map[string]interface{}{"file_path": ".ward"}, w.root), 0},
		{"bad json", "not json", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := w.run(t, tt.input, "hook")

			if exitCode != tt.wantExit {
				t.Fatalf("exit = %d, want %d (stderr: %s)", exitCode, tt.wantExit, stderr)
			}
			if tt.wantExit == 0 {
				var out map[string]string
				if err := json.Unmarshal([]byte(stdout), &out); err != nil {
					t.Fatalf("invalid JSON output: %v", err)
				}
				if out["decision"] != "allow" {
					t.Errorf("decision = %q, want allow", out["decision"])
				}
			}
			if tt.wantExit == 2 && stderr == "" {
				t.Error("a denial should explain itself on stderr")
			}
		})
	}
}
