package parser

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		want Command
	}{
		{
			name: "empty command",
			cmd:  "",
			want: Command{Raw: "", Env: map[string]string{}, Args: []string{}, Flags: map[string]string{}},
		},
		{
			name: "whitespace only",
			cmd:  "   ",
			want: Command{Raw: "   ", Env: map[string]string{}, Args: []string{}, Flags: map[string]string{}},
		},
		{
			name: "simple program",
			cmd:  "ls",
			want: Command{Raw: "ls", Env: map[string]string{}, Program: "ls", Args: []string{}, Flags: map[string]string{}},
		},
		{
			name: "program with args",
			cmd:  "ls -la /tmp",
			want: Command{Raw: "ls -la /tmp", Env: map[string]string{}, Program: "ls", Args: []string{"/tmp"}, Flags: map[string]string{"-la": ""}},
		},
		{
			name: "mkdir keeps operand after flag",
			cmd:  "mkdir -p build/out",
			want: Command{Raw: "mkdir -p build/out", Env: map[string]string{}, Program: "mkdir", Args: []string{"build/out"}, Flags: map[string]string{"-p": ""}},
		},
		{
			name: "flag with embedded value",
			cmd:  "mkdir --mode=755 logs",
			want: Command{Raw: "mkdir --mode=755 logs", Env: map[string]string{}, Program: "mkdir", Args: []string{"logs"}, Flags: map[string]string{"--mode": "755"}},
		},
		{
			name: "double dash ends flags",
			cmd:  "mkdir -- -odd",
			want: Command{Raw: "mkdir -- -odd", Env: map[string]string{}, Program: "mkdir", Args: []string{"-odd"}, Flags: map[string]string{}},
		},
		{
			name: "env var prefix",
			cmd:  "CGO_ENABLED=0 go build ./...",
			want: Command{Raw: "CGO_ENABLED=0 go build ./...", Env: map[string]string{"CGO_ENABLED": "0"}, Program: "go", Args: []string{"build", "./..."}, Flags: map[string]string{}},
		},
		{
			name: "multiple env vars",
			cmd:  "GOMODCACHE=/tmp/mod GOCACHE=/tmp/cache go test ./...",
			want: Command{Raw: "GOMODCACHE=/tmp/mod GOCACHE=/tmp/cache go test ./...", Env: map[string]string{"GOMODCACHE": "/tmp/mod", "GOCACHE": "/tmp/cache"}, Program: "go", Args: []string{"test", "./..."}, Flags: map[string]string{}},
		},
		{
			name: "quoted argument with spaces",
			cmd:  `mkdir "my dir"`,
			want: Command{Raw: `mkdir "my dir"`, Env: map[string]string{}, Program: "mkdir", Args: []string{"my dir"}, Flags: map[string]string{}},
		},
		{
			name: "env var only",
			cmd:  "FOO=bar",
			want: Command{Raw: "FOO=bar", Env: map[string]string{"FOO": "bar"}, Args: []string{}, Flags: map[string]string{}},
		},
		{
			name: "escaped space",
			cmd:  `echo hello\ world`,
			want: Command{Raw: `echo hello\ world`, Env: map[string]string{}, Program: "echo", Args: []string{"hello world"}, Flags: map[string]string{}},
		},
		{
			name: "absolute program path",
			cmd:  "/bin/rm -rf tmp",
			want: Command{Raw: "/bin/rm -rf tmp", Env: map[string]string{}, Program: "/bin/rm", Args: []string{"tmp"}, Flags: map[string]string{"-rf": ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.cmd)
			if got.Raw != tt.want.Raw {
				t.Errorf("Raw = %q, want %q", got.Raw, tt.want.Raw)
			}
			if got.Program != tt.want.Program {
				t.Errorf("Program = %q, want %q", got.Program, tt.want.Program)
			}
			if !reflect.DeepEqual(got.Env, tt.want.Env) {
				t.Errorf("Env = %v, want %v", got.Env, tt.want.Env)
			}
			if !reflect.DeepEqual(got.Args, tt.want.Args) {
				t.Errorf("Args = %v, want %v", got.Args, tt.want.Args)
			}
			if !reflect.DeepEqual(got.Flags, tt.want.Flags) {
				t.Errorf("Flags = %v, want %v", got.Flags, tt.want.Flags)
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{"ls -la", "ls"},
		{"/usr/bin/git status", "git"},
		{"./scripts/deploy.sh", "deploy.sh"},
		{"FOO=1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			if got := Parse(tt.cmd).Name(); got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseWords(t *testing.T) {
	tests := []struct {
		cmd  string
		want []string
	}{
		{"ls", []string{}},
		{"mkdir locked/new -m 755", []string{"locked/new", "-m", "755"}},
		{"mkdir -pm 755 a", []string{"-pm", "755", "a"}},
		{"FOO=1 mkdir -- -odd", []string{"--", "-odd"}},
		{`mkdir "my dir" -p`, []string{"my dir", "-p"}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			got := Parse(tt.cmd).Words
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Words = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Raw: "go test ./..."}
	if got := cmd.String(); got != "go test ./..." {
		t.Errorf("String() = %q, want %q", got, "go test ./...")
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		cmd  string
		want []string
	}{
		{"go test ./...", []string{"go", "test", "./..."}},
		{"go\ttest\t./...", []string{"go", "test", "./..."}},
		{"go   test   ./...", []string{"go", "test", "./..."}},
		{`echo ""`, []string{"echo", ""}},
		{`echo 'a "b"'`, []string{"echo", `a "b"`}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			if got := tokenize(tt.cmd); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tokenize(%q) = %v, want %v", tt.cmd, got, tt.want)
			}
		})
	}
}

func TestSegments(t *testing.T) {
	tests := []struct {
		cmd  string
		want int // number of segments
	}{
		{"ls", 1},
		{"ls | grep foo", 2},
		{"ls && pwd", 2},
		{"ls || pwd", 2},
		{"ls; pwd", 2},
		{"ls\npwd", 2},
		{"ls | grep foo && pwd", 3},
		{"echo 'hello | world'", 1},
		{`echo "a; b" && ls`, 2},
		{"sleep 1 &", 1},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			got := len(Segments(tt.cmd))
			if got != tt.want {
				t.Errorf("Segments(%q) returned %d segments, want %d", tt.cmd, got, tt.want)
			}
		})
	}
}

func TestParseLine(t *testing.T) {
	cmds := ParseLine("cd src && mkdir -p out ; ; VAR=1 rm -rf tmp")

	want := []string{"cd", "mkdir", "rm"}
	if len(cmds) != len(want) {
		t.Fatalf("ParseLine returned %d commands, want %d", len(cmds), len(want))
	}
	for i, w := range want {
		if cmds[i].Program != w {
			t.Errorf("cmds[%d].Program = %q, want %q", i, cmds[i].Program, w)
		}
	}
	if !reflect.DeepEqual(cmds[1].Args, []string{"out"}) {
		t.Errorf("mkdir Args = %v, want [out]", cmds[1].Args)
	}
}
