package views

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/mapharvest/internal/tui/styles"
)

const pickerRows = 15

// FilePickerModel browses directories for run databases.
type FilePickerModel struct {
	dir     string
	entries []pickerEntry
	cursor  int
	err     error
}

type pickerEntry struct {
	name string
	dir  bool
	size int64
}

func NewFilePickerModel(start string) FilePickerModel {
	if start == "" {
		start = "."
	}
	if abs, err := filepath.Abs(start); err == nil {
		start = abs
	}
	// A run directory that was never written to falls back to its parent.
	for {
		if info, err := os.Stat(start); err == nil && info.IsDir() {
			break
		}
		parent := filepath.Dir(start)
		if parent == start {
			break
		}
		start = parent
	}
	return FilePickerModel{dir: start}.chdir(start)
}

// chdir lists dir: visible subdirectories first, then .db files, each by name.
func (m FilePickerModel) chdir(dir string) FilePickerModel {
	listing, err := os.ReadDir(dir)
	if err != nil {
		m.err = err
		return m
	}
	m.dir, m.err, m.cursor = dir, nil, 0
	m.entries = nil
	for _, e := range listing {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			m.entries = append(m.entries, pickerEntry{name: e.Name(), dir: true})
			continue
		}
		if filepath.Ext(e.Name()) != ".db" {
			continue
		}
		entry := pickerEntry{name: e.Name()}
		if info, err := e.Info(); err == nil {
			entry.size = info.Size()
		}
		m.entries = append(m.entries, entry)
	}
	slices.SortStableFunc(m.entries, func(a, b pickerEntry) int {
		switch {
		case a.dir == b.dir:
			return strings.Compare(a.name, b.name)
		case a.dir:
			return -1
		default:
			return 1
		}
	})
	return m
}

func (m FilePickerModel) Init() tea.Cmd { return nil }

func (m FilePickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
	case "backspace", "left", "h":
		return m.chdir(filepath.Dir(m.dir)), nil
	case "enter", "right", "l":
		if len(m.entries) == 0 {
			return m, nil
		}
		e := m.entries[m.cursor]
		full := filepath.Join(m.dir, e.name)
		if e.dir {
			return m.chdir(full), nil
		}
		return m, navigate(NavigateToExplorer{DBPath: full, Label: strings.TrimSuffix(e.name, ".db")})
	}
	return m, nil
}

func (m FilePickerModel) View() string {
	var b strings.Builder
	b.WriteString(styles.Title.Render("Open Run") + "\n")
	b.WriteString(lipgloss.NewStyle().Foreground(styles.Muted).Render(m.dir) + "\n\n")

	switch {
	case m.err != nil:
		b.WriteString(styles.ErrorText.Render(m.err.Error()) + "\n")
	case len(m.entries) == 0:
		b.WriteString(styles.Hint.Render("No run databases here.") + "\n")
	}

	from := max(0, min(m.cursor-pickerRows/2, len(m.entries)-pickerRows))
	to := min(len(m.entries), from+pickerRows)
	for i := from; i < to; i++ {
		e := m.entries[i]
		if e.dir {
			b.WriteString(listPrefix(i == m.cursor, e.name+"/") + "\n")
			continue
		}
		b.WriteString(listPrefix(i == m.cursor, e.name) + styles.Hint.Render("  "+humanSize(e.size)) + "\n")
	}

	b.WriteString("\n" + styles.StatusBar.Render("enter open • backspace up • esc back"))
	return styles.Border.Render(b.String())
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
