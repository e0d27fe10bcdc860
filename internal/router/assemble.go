package router

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/state"
)

const truncationMarker = "\n[... truncated ...]\n"

// Injected control spans are stripped from file content before inclusion,
// including spans embedded inside file bodies.
var strippedSpans = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<task-notification>.*?</task-notification>`),
	regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`),
}

// Sanitize removes control spans from content.
func Sanitize(content string) string {
	for _, re := range strippedSpans {
		content = re.ReplaceAllString(content, "")
	}
	return content
}

// assemble builds the output blob from the ranked selection: full content
// for Hot files, outlines for Warm files, and a trailing evicted manifest
// naming the Cold files. The running total never exceeds MaxContextChars.
func (r *Router) assemble(st *state.AttentionState, ranked []RankedFile, stats *Stats) string {
	log := logging.Get(logging.CategoryRouter)

	var hot, warm, cold []RankedFile
	for _, f := range ranked {
		switch f.Tier {
		case TierHot:
			hot = append(hot, f)
		case TierWarm:
			warm = append(warm, f)
		default:
			cold = append(cold, f)
		}
	}

	contents := r.readHotFiles(hot)

	// Materialize the ordered sections first; budget enforcement happens in
	// a second pass so the path-only tail can be sized exactly.
	type section struct {
		id   string
		text string
	}
	var sections []section

	for _, f := range hot {
		content, ok := contents[f.FileID]
		if !ok {
			log.Warn("hot file missing on disk, skipping: %s", f.FileID)
			st.MarkMissing(f.FileID, st.TurnCount)
			stats.MissingFiles = append(stats.MissingFiles, f.FileID)
			continue
		}
		sections = append(sections, section{f.FileID, fmt.Sprintf("=== %s ===\n%s\n", f.FileID, content)})
	}

	for _, f := range warm {
		outline, ok := r.repoMap.Outline(f.FileID)
		if !ok || outline == "" {
			if !r.fileExists(f.FileID) {
				log.Warn("warm file missing on disk, skipping: %s", f.FileID)
				st.MarkMissing(f.FileID, st.TurnCount)
				stats.MissingFiles = append(stats.MissingFiles, f.FileID)
			}
			// An empty outline is silently omitted.
			continue
		}
		sections = append(sections, section{f.FileID, fmt.Sprintf("--- %s (outline) ---\n%s\n", f.FileID, Sanitize(outline))})
	}

	// The evicted manifest names everything not materialized: Cold-tier
	// scored files first, then the rest of the project tree.
	selected := make(map[string]bool, len(hot)+len(warm))
	for _, f := range hot {
		selected[f.FileID] = true
	}
	for _, f := range warm {
		selected[f.FileID] = true
	}
	evicted := make([]string, 0, len(cold))
	for _, f := range cold {
		evicted = append(evicted, f.FileID)
		selected[f.FileID] = true
	}
	for _, id := range listProjectFiles(r.projectRoot) {
		if !selected[id] {
			evicted = append(evicted, id)
		}
	}

	buildTail := func(pathOnly []string) string {
		var t strings.Builder
		if len(pathOnly) > 0 {
			t.WriteString("also relevant:\n")
			for _, p := range pathOnly {
				t.WriteString("  " + p + "\n")
			}
		}
		if len(evicted) > 0 {
			t.WriteString("evicted: " + strings.Join(evicted, ", ") + "\n")
		}
		return t.String()
	}

	budget := r.cfg.Caps.MaxContextChars
	var b strings.Builder
	tail := ""

	for i, s := range sections {
		if b.Len()+len(s.text) <= budget {
			b.WriteString(s.text)
			continue
		}
		// Over budget: everything after this section is path-only, and this
		// section is truncated into whatever room the tail leaves.
		var pathOnly []string
		for _, rest := range sections[i+1:] {
			pathOnly = append(pathOnly, rest.id)
		}
		tail = buildTail(pathOnly)
		remaining := budget - b.Len() - len(tail)
		if remaining > len(truncationMarker) {
			b.WriteString(s.text[:remaining-len(truncationMarker)])
			b.WriteString(truncationMarker)
		} else {
			// No room for any of it: this section joins the path list.
			tail = buildTail(append([]string{s.id}, pathOnly...))
		}
		break
	}

	if tail == "" {
		tail = buildTail(nil)
	}
	if b.Len()+len(tail) <= budget {
		b.WriteString(tail)
	}

	out := b.String()
	stats.OutputChars = len(out)
	return out
}

// readHotFiles reads Hot-tier content with bounded parallelism, applying
// the per-file character cap and span stripping. Missing or unreadable
// files are absent from the returned map.
func (r *Router) readHotFiles(hot []RankedFile) map[string]string {
	if len(hot) == 0 {
		return nil
	}

	var mu sync.Mutex
	contents := make(map[string]string, len(hot))

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrentFileReads)

	for _, f := range hot {
		id := f.FileID
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(r.projectRoot, id))
			if err != nil {
				return nil // recorded as missing by the caller
			}
			content := Sanitize(string(data))
			if limit := r.cfg.Caps.PerFileCharCap; len(content) > limit {
				content = content[:limit] + truncationMarker
			}
			mu.Lock()
			contents[id] = content
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return contents
}
