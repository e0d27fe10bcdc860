// Package paths resolves where a project's router state lives on disk and
// provides the Clock abstraction the rest of the module depends on instead
// of calling time.Now() directly.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Clock is the time source injected into every component that needs
// wall-clock time, so tests can substitute a fixed or stepped clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

const defaultToolDir = ".attentive"

// Paths resolves the on-disk layout for a single project.
//
//   - PerCopyDir holds attn_state.json: state that must not be shared
//     between two working copies of the same repository (each copy has its
//     own idea of which files are hot).
//   - SharedDir holds learned_state.json and predictor_model.json: models
//     that benefit from being shared across a main checkout and its
//     worktrees, keyed by the VCS's common directory rather than the
//     worktree path.
//   - ConfigDir holds config.json, keywords.json and router_overrides.json.
type Paths struct {
	Home       string
	ToolDir    string
	ProjectRoot string
	PerCopyDir string
	SharedDir  string
	ConfigDir  string
}

// Resolve computes the Paths for the project containing startDir.
func Resolve(startDir string) (*Paths, error) {
	root, err := FindWorkspaceRoot(startDir)
	if err != nil {
		return nil, err
	}

	home := os.Getenv("TOOL_HOME")
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		home = h
	}

	toolDir := defaultToolDir
	base := filepath.Join(home, toolDir, "projects")

	perCopyHash := projectHash(root)
	perCopyDir := filepath.Join(base, perCopyHash)

	sharedDir := perCopyDir
	if commonDir, ok := gitCommonDir(root); ok {
		sharedHash := projectHash(commonDir)
		sharedDir = filepath.Join(base, sharedHash)
	}

	configDir := perCopyDir
	if override := os.Getenv("TOOL_CONFIG"); override != "" {
		if info, err := os.Stat(override); err == nil && info.IsDir() {
			configDir = override
		} else {
			configDir = filepath.Dir(override)
		}
	}

	p := &Paths{
		Home:        home,
		ToolDir:     toolDir,
		ProjectRoot: root,
		PerCopyDir:  perCopyDir,
		SharedDir:   sharedDir,
		ConfigDir:   configDir,
	}
	return p, p.ensureDirs()
}

func (p *Paths) ensureDirs() error {
	for _, d := range []string{p.PerCopyDir, p.SharedDir, p.ConfigDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// FindWorkspaceRoot walks upward from startDir looking for a .git directory
// or go.mod file, falling back to startDir itself if neither is found.
func FindWorkspaceRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve start dir: %w", err)
	}

	dir := abs
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

// gitCommonDir asks git for its common directory (shared across worktrees
// of the same repository). Returns ok=false if git is unavailable, the
// directory isn't a git repo, or the command fails for any reason, in
// which case callers fall back to per-copy placement.
func gitCommonDir(root string) (string, bool) {
	cmd := exec.Command("git", "rev-parse", "--git-common-dir")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	dir := strings.TrimSpace(string(out))
	if dir == "" {
		return "", false
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	return abs, true
}

func projectHash(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:16]
}

func (p *Paths) AttnStatePath() string       { return filepath.Join(p.PerCopyDir, "attn_state.json") }
func (p *Paths) LearnedStatePath() string    { return filepath.Join(p.SharedDir, "learned_state.json") }
func (p *Paths) PredictorModelPath() string  { return filepath.Join(p.SharedDir, "predictor_model.json") }
func (p *Paths) KeywordsPath() string        { return filepath.Join(p.ConfigDir, "keywords.json") }
func (p *Paths) OverridesPath() string       { return filepath.Join(p.ConfigDir, "router_overrides.json") }
func (p *Paths) ConfigPath() string          { return filepath.Join(p.ConfigDir, "config.json") }
func (p *Paths) TurnsLogPath() string        { return filepath.Join(p.SharedDir, "turns.jsonl") }
func (p *Paths) EventsLogPath() string       { return filepath.Join(p.SharedDir, "events.jsonl") }
func (p *Paths) PluginStateDir() string      { return filepath.Join(p.PerCopyDir, "plugins") }
func (p *Paths) DerivedIndexPath() string    { return filepath.Join(p.SharedDir, "turns_index.sqlite") }
func (p *Paths) LogsDir() string             { return filepath.Join(p.PerCopyDir, "logs") }
