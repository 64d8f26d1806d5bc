package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamonco/ward/internal/audit"
	"github.com/yamonco/ward/internal/config"
	"github.com/yamonco/ward/internal/engine"
)

func newServer(t *testing.T, files map[string]string) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	cfg := config.Default()
	cfg.Root = root
	e, err := engine.New(cfg, engine.WithAudit(audit.Discard{}))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return New(e, "test", nil), root
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content type %T", res.Content[0])
	return ""
}

func TestHandleCheck(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	s, root := newServer(t, map[string]string{
		".ward": "@description: Careful here\n@blacklist: rm\n@lock_new_dirs: true\n",
	})
	ctx := context.Background()

	// when
	allow, err := s.handleCheck(ctx, call(map[string]interface{}{"path": root, "command": "ls"}))
	r.NoError(err)
	deny, err := s.handleCheck(ctx, call(map[string]interface{}{"path": root, "command": "rm"}))
	r.NoError(err)
	mkdir, err := s.handleCheck(ctx, call(map[string]interface{}{"path": filepath.Join(root, "new"), "command": "mkdir", "kind": "mkdir"}))
	r.NoError(err)

	// then
	a.False(allow.IsError)
	a.Equal("ALLOW", text(t, allow))
	a.False(deny.IsError, "a denial is a normal result")
	a.True(strings.HasPrefix(text(t, deny), "DENY\n"))
	a.Contains(text(t, deny), "Careful here")
	a.True(strings.HasPrefix(text(t, mkdir), "DENY"))
}

func TestHandleCheckErrors(t *testing.T) {
	s, root := newServer(t, nil)
	ctx := context.Background()

	missing, err := s.handleCheck(ctx, call(map[string]interface{}{"command": "ls"}))
	require.NoError(t, err)
	assert.True(t, missing.IsError)

	outside, err := s.handleCheck(ctx, call(map[string]interface{}{"path": filepath.Dir(root), "command": "ls"}))
	require.NoError(t, err)
	assert.True(t, outside.IsError)

	badKind, err := s.handleCheck(ctx, call(map[string]interface{}{"path": root, "command": "mkdir", "kind": "directory"}))
	require.NoError(t, err)
	assert.True(t, badKind.IsError)
	assert.Contains(t, text(t, badKind), "unknown operation kind")
}

func TestHandleInfo(t *testing.T) {
	s, root := newServer(t, map[string]string{
		".ward": "@description: Root policy\n@whitelist: ls git\n# first note\n",
	})

	res, err := s.handleInfo(context.Background(), call(map[string]interface{}{"path": root}))

	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "description: Root policy")
	assert.Contains(t, out, "whitelist=[git ls]")
	assert.Contains(t, out, "# first note")
}

func TestHandleComment(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s, root := newServer(t, map[string]string{
		".ward": "@allow_comments: true\n@max_comments: 1\n",
	})
	ctx := context.Background()

	ok, err := s.handleComment(ctx, call(map[string]interface{}{"path": root, "comment": "checked", "author": "agent"}))
	r.NoError(err)
	a.False(ok.IsError)

	full, err := s.handleComment(ctx, call(map[string]interface{}{"path": root, "comment": "again"}))
	r.NoError(err)
	a.True(full.IsError)

	empty, err := s.handleComment(ctx, call(map[string]interface{}{"path": root, "comment": "  "}))
	r.NoError(err)
	a.True(empty.IsError)

	data, err := os.ReadFile(filepath.Join(root, ".ward"))
	r.NoError(err)
	a.Equal("@allow_comments: true\n@max_comments: 1\n# agent: checked\n", string(data))
}

func TestHandleValidate(t *testing.T) {
	s, root := newServer(t, map[string]string{
		".ward":    "@lock_writes: maybe\n",
		"ok/.ward": "@lock_writes: true\n",
	})
	ctx := context.Background()

	bad, err := s.handleValidate(ctx, call(map[string]interface{}{"path": root}))
	require.NoError(t, err)
	assert.Contains(t, text(t, bad), "1 issue(s)")
	assert.Contains(t, text(t, bad), "lock_writes")

	good, err := s.handleValidate(ctx, call(map[string]interface{}{"path": filepath.Join(root, "ok")}))
	require.NoError(t, err)
	assert.Equal(t, "OK", text(t, good))
}
