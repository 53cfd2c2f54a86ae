package views

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/mapharvest/internal/tui/styles"
)

// RecentEntry mirrors the persisted recent-run record.
type RecentEntry struct {
	Path    string
	Label   string
	Records int
	SavedAt time.Time
}

func (e RecentEntry) title() string {
	if e.Label != "" {
		return e.Label
	}
	return strings.TrimSuffix(filepath.Base(e.Path), filepath.Ext(e.Path))
}

func (e RecentEntry) missing() bool {
	_, err := os.Stat(e.Path)
	return os.IsNotExist(err)
}

type RecentModel struct {
	entries []RecentEntry
	cursor  int
}

func NewRecentModel(entries []RecentEntry) RecentModel {
	return RecentModel{entries: entries}
}

func (m RecentModel) Init() tea.Cmd { return nil }

func (m RecentModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if cur, moved := moveCursor(key.String(), m.cursor, len(m.entries)); moved {
		m.cursor = cur
		return m, nil
	}
	switch key.String() {
	case "esc":
		return m, navigate(NavigateToHome{})
	case "enter":
		if len(m.entries) == 0 || m.entries[m.cursor].missing() {
			return m, nil
		}
		e := m.entries[m.cursor]
		return m, navigate(NavigateToExplorer{DBPath: e.Path, Label: e.title()})
	case "d", "delete":
		if len(m.entries) == 0 {
			return m, nil
		}
		gone := m.entries[m.cursor]
		m.entries = append(m.entries[:m.cursor:m.cursor], m.entries[m.cursor+1:]...)
		m.cursor = max(0, min(m.cursor, len(m.entries)-1))
		return m, navigate(ForgetRecent{Path: gone.Path})
	}
	return m, nil
}

func (m RecentModel) View() string {
	muted := lipgloss.NewStyle().Foreground(styles.Muted)

	var b strings.Builder
	b.WriteString(styles.Title.Render("Recent Runs") + "\n\n")

	if len(m.entries) == 0 {
		b.WriteString(styles.Hint.Render("Finished harvests show up here.") + "\n\n")
		b.WriteString(styles.StatusBar.Render("esc back"))
		return styles.Border.Render(b.String())
	}

	for i, e := range m.entries {
		line := listPrefix(i == m.cursor, e.title())
		if e.missing() {
			line = "  " + lipgloss.NewStyle().Foreground(styles.Error).Strikethrough(true).Render(e.title())
			if i == m.cursor {
				line = ">" + line[1:]
			}
		}
		b.WriteString(line + "\n")
		b.WriteString(muted.Render(fmt.Sprintf("    %d records · %s · %s", e.Records, filepath.Base(e.Path), since(e.SavedAt))))
		b.WriteString("\n")
	}

	b.WriteString("\n" + styles.StatusBar.Render("enter open • d forget • esc back"))
	return styles.Border.Render(b.String())
}

func since(t time.Time) string {
	switch d := time.Since(t); {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%d h ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}
