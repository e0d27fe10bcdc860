// Package script loads user-authored plugins written as interpreted Go
// source. A script declares the hooks it implements by defining functions
// with well-known names; only stdlib imports are available inside the
// interpreter, so a broken script cannot reach the filesystem or network
// beyond what the supervisor hands it.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/luan/attentive/internal/plugin"
	"github.com/luan/attentive/internal/telemetry"
)

var allowedImports = map[string]bool{
	"strings": true, "strconv": true, "fmt": true, "math": true,
	"regexp": true, "encoding/json": true, "time": true, "sort": true,
	"bytes": true, "path": true, "path/filepath": true,
}

var importRe = regexp.MustCompile(`(?m)^\s*(?:import\s+"([^"]+)"|"([^"]+)")`)

// Script is a plugin backed by an interpreted Go file. The file may define
// any of:
//
//	func OnPromptPre(prompt string) []string
//	func OnStop(toolCalls [][3]string)   // (tool, target_path, op_hash)
type Script struct {
	name      string
	promptPre func(string) []string
	stop      func([][3]string)
}

// Load interprets the script at path and resolves its hook functions.
func Load(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin script: %w", err)
	}
	if err := validateImports(string(src)); err != nil {
		return nil, fmt.Errorf("plugin script %s: %w", path, err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("evaluate plugin script %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".go")
	s := &Script{name: "script:" + name}

	if v, err := i.Eval("main.OnPromptPre"); err == nil {
		if fn, ok := v.Interface().(func(string) []string); ok {
			s.promptPre = fn
		}
	}
	if v, err := i.Eval("main.OnStop"); err == nil {
		if fn, ok := v.Interface().(func([][3]string)); ok {
			s.stop = fn
		}
	}
	if s.promptPre == nil && s.stop == nil {
		return nil, fmt.Errorf("plugin script %s defines no recognized hooks", path)
	}
	return s, nil
}

func validateImports(src string) error {
	for _, m := range importRe.FindAllStringSubmatch(src, -1) {
		pkg := m[1]
		if pkg == "" {
			pkg = m[2]
		}
		if pkg != "" && !allowedImports[pkg] {
			return fmt.Errorf("import %q not allowed in plugin scripts", pkg)
		}
	}
	return nil
}

func (s *Script) Name() string { return s.name }

// OnPromptPre forwards to the script's hook if defined.
func (s *Script) OnPromptPre(ctx *plugin.Context, prompt string) ([]string, error) {
	if s.promptPre == nil {
		return nil, nil
	}
	return s.promptPre(prompt), nil
}

// OnStop forwards the turn's tool calls as plain tuples.
func (s *Script) OnStop(ctx *plugin.Context, turn telemetry.TurnRecord) error {
	if s.stop == nil {
		return nil
	}
	calls := make([][3]string, 0, len(turn.ToolCalls))
	for _, tc := range turn.ToolCalls {
		calls = append(calls, [3]string{tc.Tool, tc.TargetPath, tc.OpHash})
	}
	s.stop(calls)
	return nil
}
