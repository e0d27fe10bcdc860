package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/paths"
	"github.com/luan/attentive/internal/state"
)

var statusPlain bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the project's current attention tiers",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusPlain, "plain", false, "print a one-shot report instead of the TUI")
}

// tierRow is one file in the dashboard.
type tierRow struct {
	FileID string
	Score  float64
	Streak int
	Tier   string
}

func loadTierRows(p *paths.Paths, cfg *config.Config) ([]tierRow, int) {
	st := state.Load(p.AttnStatePath())

	rows := make([]tierRow, 0, len(st.Scores))
	for id, score := range st.Scores {
		tier := "cold"
		switch {
		case score >= cfg.Thresholds.Hot:
			tier = "hot"
		case score >= cfg.Thresholds.Warm:
			tier = "warm"
		}
		rows = append(rows, tierRow{FileID: id, Score: score, Streak: st.Streaks[id], Tier: tier})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].FileID < rows[j].FileID
	})
	return rows, st.TurnCount
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := paths.Resolve(projectDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(p.ConfigPath())
	if err != nil {
		return err
	}
	if overrides, err := config.LoadOverrides(p.OverridesPath()); err == nil {
		overrides.Apply(cfg)
	}

	if statusPlain {
		return printStatusReport(p, cfg)
	}

	m := newStatusModel(p, cfg)
	prog := tea.NewProgram(m)

	// Live deletion markers: when a scored file disappears from disk the
	// dashboard flags it without waiting for the next turn's purge sweep.
	if w, werr := paths.NewDeletionWatcher(p.ProjectRoot, func(id string) {
		prog.Send(fileDeletedMsg(id))
	}); werr == nil {
		for _, r := range m.rows {
			w.Track(r.FileID)
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		w.Start(ctx)
		defer w.Stop()
	}

	_, err = prog.Run()
	return err
}

// fileDeletedMsg is sent by the deletion watcher into the TUI loop.
type fileDeletedMsg string

// printStatusReport renders a markdown report through glamour for the
// non-interactive path.
func printStatusReport(p *paths.Paths, cfg *config.Config) error {
	rows, turns := loadTierRows(p, cfg)

	var md strings.Builder
	fmt.Fprintf(&md, "# attentive status\n\n")
	fmt.Fprintf(&md, "project: `%s` (turn %d, %d scored files)\n\n", p.ProjectRoot, turns, len(rows))
	md.WriteString("| file | score | streak | tier |\n|---|---|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&md, "| %s | %.3f | %d | %s |\n", r.FileID, r.Score, r.Streak, r.Tier)
	}
	if len(rows) == 0 {
		md.WriteString("\n_no attention state yet; run a turn first_\n")
	}

	out, err := glamour.Render(md.String(), "auto")
	if err != nil {
		fmt.Print(md.String())
		return nil
	}
	fmt.Print(out)
	return nil
}

// =============================================================================
// TUI
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	hotStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	warmStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	coldStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
)

type statusModel struct {
	paths   *paths.Paths
	cfg     *config.Config
	table   table.Model
	rows    []tierRow
	deleted map[string]bool
	turns   int
}

func newStatusModel(p *paths.Paths, cfg *config.Config) *statusModel {
	m := &statusModel{paths: p, cfg: cfg, deleted: make(map[string]bool)}
	m.reload()
	return m
}

func (m *statusModel) reload() {
	m.rows, m.turns = loadTierRows(m.paths, m.cfg)
	m.rebuildTable()
}

func (m *statusModel) rebuildTable() {
	cols := []table.Column{
		{Title: "file", Width: 48},
		{Title: "score", Width: 8},
		{Title: "streak", Width: 6},
		{Title: "tier", Width: 10},
	}
	trows := make([]table.Row, 0, len(m.rows))
	for _, r := range m.rows {
		tier := r.Tier
		if m.deleted[r.FileID] {
			tier += " (gone)"
		}
		trows = append(trows, table.Row{r.FileID, fmt.Sprintf("%.3f", r.Score), fmt.Sprintf("%d", r.Streak), tier})
	}

	m.table = table.New(
		table.WithColumns(cols),
		table.WithRows(trows),
		table.WithFocused(true),
		table.WithHeight(20),
	)
}

func (m *statusModel) Init() tea.Cmd { return nil }

func (m *statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case fileDeletedMsg:
		m.deleted[string(msg)] = true
		m.rebuildTable()
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.reload()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *statusModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("attentive: %s (turn %d)", m.paths.ProjectRoot, m.turns)))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(legend(m.cfg))
	b.WriteString(helpStyle.Render("r reload · q quit"))
	b.WriteString("\n")
	return b.String()
}

func legend(cfg *config.Config) string {
	return fmt.Sprintf("%s ≥ %.2f   %s ≥ %.2f   %s below\n",
		hotStyle.Render("hot"), cfg.Thresholds.Hot,
		warmStyle.Render("warm"), cfg.Thresholds.Warm,
		coldStyle.Render("cold"))
}
