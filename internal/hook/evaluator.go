// Package hook adapts agent tool calls into authorization requests.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yamonco/ward/internal/config"
	"github.com/yamonco/ward/internal/parser"
	"github.com/yamonco/ward/internal/policy"
)

// ProtectedReason is returned when a write tool targets a policy file.
const ProtectedReason = "ward: policy files can only be annotated through ward comment"

// Input represents the PreToolUse payload sent by the agent.
type Input struct {
	HookEventName string                 `json:"hook_event_name"`
	ToolName      string                 `json:"tool_name"`
	ToolInput     map[string]interface{} `json:"tool_input"`
	Cwd           string                 `json:"cwd"`
}

// Output is written to stdout when the call is allowed.
type Output struct {
	Decision string `json:"decision"`
}

// Result represents the evaluation result.
type Result struct {
	Allowed bool
	Reason  string
}

// Checker authorizes a single request.
type Checker interface {
	Check(ctx context.Context, req policy.Request) (policy.Decision, error)
}

// Evaluator evaluates hook inputs against the policy chain.
type Evaluator struct {
	checker    Checker
	writeTools map[string]bool
	protect    bool
	policyFile string
}

// NewEvaluator creates a new hook evaluator.
func NewEvaluator(checker Checker, cfg *config.Config) *Evaluator {
	if cfg == nil {
		cfg = config.Default()
	}
	tools := make(map[string]bool, len(cfg.Hook.WriteTools))
	for _, t := range cfg.Hook.WriteTools {
		tools[t] = true
	}
	return &Evaluator{
		checker:    checker,
		writeTools: tools,
		protect:    cfg.ProtectPolicyFiles(),
		policyFile: cfg.PolicyFile,
	}
}

// ReadInput decodes a hook payload.
func ReadInput(r io.Reader) (Input, error) {
	var input Input
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		return Input{}, fmt.Errorf("cannot decode input: %w", err)
	}
	return input, nil
}

// Evaluate processes the hook input. Every request derived from it must
// be allowed; the first denial wins.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (Result, error) {
	cwd := input.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Result{}, fmt.Errorf("cannot get working directory: %w", err)
		}
		cwd = wd
	}

	if e.writeTools[input.ToolName] {
		target := filePath(input.ToolInput)
		if target == "" {
			return Result{Allowed: true}, nil
		}
		target = resolvePath(target, cwd)
		if e.protect && isProtected(target, e.policyFile) {
			return Result{Allowed: false, Reason: ProtectedReason}, nil
		}
		return e.check(ctx, []policy.Request{{Target: target, Kind: policy.FileWrite}})
	}

	if input.ToolName == "Bash" {
		command, _ := input.ToolInput["command"].(string)
		return e.check(ctx, BashRequests(command, cwd))
	}

	return Result{Allowed: true}, nil
}

func (e *Evaluator) check(ctx context.Context, reqs []policy.Request) (Result, error) {
	for _, req := range reqs {
		d, err := e.checker.Check(ctx, req)
		if err != nil {
			return Result{}, err
		}
		if !d.Allowed() {
			return Result{Allowed: false, Reason: d.Reason}, nil
		}
	}
	return Result{Allowed: true}, nil
}

// BashRequests turns a shell command line into one request per command.
// mkdir operands become directory-creation requests; every other program
// is checked against cwd. A plain "cd dir" moves cwd for the segments
// after it.
func BashRequests(line, cwd string) []policy.Request {
	var reqs []policy.Request
	for _, cmd := range parser.ParseLine(line) {
		name := cmd.Name()
		if name == "" {
			continue
		}

		switch name {
		case "mkdir":
			dirs := mkdirOperands(cmd)
			if len(dirs) == 0 {
				reqs = append(reqs, policy.Request{Command: name, Target: cwd})
			}
			for _, d := range dirs {
				reqs = append(reqs, policy.Request{
					Command: name,
					Target:  resolvePath(d, cwd),
					Kind:    policy.DirectoryCreate,
				})
			}
		case "cd":
			reqs = append(reqs, policy.Request{Command: name, Target: cwd})
			if len(cmd.Args) == 1 && !strings.ContainsAny(cmd.Args[0], "$`") {
				cwd = resolvePath(cmd.Args[0], cwd)
			}
		default:
			reqs = append(reqs, policy.Request{Command: name, Target: cwd})
		}
	}
	return reqs
}

// mkdirOperands returns the directories a mkdir invocation creates. The
// mode option takes a value: "--mode" and a short cluster ending in "m"
// ("-m", "-pm") consume the next word, "--mode=755" and "-m755" carry it.
func mkdirOperands(cmd parser.Command) []string {
	var dirs []string
	takesValue, operandsOnly := false, false
	for _, w := range cmd.Words {
		switch {
		case takesValue:
			takesValue = false
		case operandsOnly:
			dirs = append(dirs, w)
		case w == "--":
			operandsOnly = true
		case w == "--mode":
			takesValue = true
		case strings.HasPrefix(w, "--"):
		case strings.HasPrefix(w, "-") && w != "-":
			cluster := w[1:]
			takesValue = strings.IndexByte(cluster, 'm') == len(cluster)-1
		default:
			dirs = append(dirs, w)
		}
	}
	return dirs
}

func filePath(toolInput map[string]interface{}) string {
	for _, key := range []string{"file_path", "notebook_path", "path"} {
		if p, ok := toolInput[key].(string); ok && p != "" {
			return p
		}
	}
	return ""
}
