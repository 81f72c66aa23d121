// Package approval mediates every user-facing question the agent asks:
// tool approvals, follow-up questions, completion review and resume prompts.
package approval

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"mvdan.cc/sh/v3/syntax"

	"github.com/kodu-ai/kodu/pkg/types"
)

// readOnlyTools never modify the workspace and are safe to auto-approve.
var readOnlyTools = map[string]bool{
	"read_file":                  true,
	"list_files":                 true,
	"search_files":               true,
	"list_code_definition_names": true,
	"explore_repo_folder":        true,
	"web_search":                 true,
	"url_screenshot":             true,
}

// writeTools modify files and fall under the write auto-approval flag.
var writeTools = map[string]bool{
	"write_to_file": true,
	"file_editor":   true,
	"edit_file":     true,
}

// mustRequestApprovalTypes always reach the user, whatever the policy flags
// say. Completion review and resume decisions are the user's to make.
var mustRequestApprovalTypes = map[types.AskType]bool{
	types.AskCompletionResult:    true,
	types.AskResumeCompletedTask: true,
	types.AskResumeTask:          true,
	types.AskRequestLimitReached: true,
	types.AskFollowup:            true,
}

// mustRequestApprovalTools always reach the user even when their ask type
// would otherwise auto-approve.
var mustRequestApprovalTools = map[string]bool{
	"ask_followup_question": true,
	"attempt_completion":    true,
}

// readOnlyCommands are shell commands that only observe state.
var readOnlyCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "less": true,
	"grep": true, "rg": true, "find": true, "wc": true, "which": true,
	"pwd": true, "echo": true, "env": true, "printenv": true, "file": true,
	"stat": true, "du": true, "df": true, "ps": true, "whoami": true,
	"date": true, "uname": true, "tree": true, "diff": true,
}

// readOnlyGitSubcommands are git verbs that never mutate the repository.
var readOnlyGitSubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true,
	"branch": true, "remote": true, "blame": true, "shortlog": true,
}

// Policy decides whether an ask may be answered without the user.
type Policy struct {
	// AlwaysAllowReadOnly auto-approves read-only tools and read-only
	// shell commands.
	AlwaysAllowReadOnly bool
	// AlwaysAllowWriteOnly auto-approves file edits, subject to the path
	// globs below.
	AlwaysAllowWriteOnly bool

	// AllowedWriteGlobs restricts write auto-approval to matching paths.
	// Empty means any path.
	AllowedWriteGlobs []string
	// DeniedWriteGlobs always require explicit approval, checked before
	// the allow list.
	DeniedWriteGlobs []string
}

// ShouldAutoApprove reports whether the ask can be synthesized as approved
// without surfacing it to the user.
func (p *Policy) ShouldAutoApprove(askType types.AskType, details *types.AskDetails) bool {
	if mustRequestApprovalTypes[askType] {
		return false
	}

	switch askType {
	case types.AskTool:
		if details == nil || details.Tool == nil {
			return false
		}
		name := details.Tool.Tool
		if mustRequestApprovalTools[name] {
			return false
		}
		if readOnlyTools[name] {
			return p.AlwaysAllowReadOnly
		}
		if writeTools[name] {
			return p.AlwaysAllowWriteOnly && p.writePathAllowed(details.Tool.Input)
		}
		return false

	case types.AskCommand:
		if !p.AlwaysAllowReadOnly || details == nil {
			return false
		}
		return IsReadOnlyCommand(details.Question)

	default:
		return false
	}
}

func (p *Policy) writePathAllowed(input map[string]any) bool {
	path, _ := input["path"].(string)
	if path == "" {
		return len(p.AllowedWriteGlobs) == 0 && len(p.DeniedWriteGlobs) == 0
	}
	for _, g := range p.DeniedWriteGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			return false
		}
	}
	if len(p.AllowedWriteGlobs) == 0 {
		return true
	}
	for _, g := range p.AllowedWriteGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// IsReadOnlyCommand parses a shell command line and reports whether every
// invoked program only observes state. Output redirection, unknown programs
// and unparsable input all classify as mutating.
func IsReadOnlyCommand(command string) bool {
	if strings.TrimSpace(command) == "" {
		return false
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return false
	}

	readOnly := true
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			if !callIsReadOnly(n) {
				readOnly = false
			}
		case *syntax.Redirect:
			switch n.Op {
			case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll, syntax.ClbOut:
				readOnly = false
			}
		}
		return readOnly
	})
	return readOnly
}

func callIsReadOnly(call *syntax.CallExpr) bool {
	if len(call.Args) == 0 {
		// Bare assignments touch only the shell environment.
		return true
	}
	name := wordLiteral(call.Args[0])
	if name == "" {
		return false
	}
	if name == "git" {
		if len(call.Args) < 2 {
			return false
		}
		return readOnlyGitSubcommands[wordLiteral(call.Args[1])]
	}
	return readOnlyCommands[name]
}

// wordLiteral returns the word's text when it is a plain literal, empty
// otherwise (expansions and substitutions are not classifiable).
func wordLiteral(w *syntax.Word) string {
	if len(w.Parts) != 1 {
		return ""
	}
	lit, ok := w.Parts[0].(*syntax.Lit)
	if !ok {
		return ""
	}
	return lit.Value
}
