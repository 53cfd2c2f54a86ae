package views

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/mapharvest/internal/tui/styles"
)

type menuItem struct {
	key   string
	label string
	desc  string
	next  tea.Msg // nil quits
}

var homeMenu = []menuItem{
	{key: "n", label: "New Harvest", desc: "collect businesses for a query", next: NavigateToSearch{}},
	{key: "o", label: "Open Run", desc: "browse a run database", next: NavigateToLoad{}},
	{key: "r", label: "Recent Runs", desc: "reopen a finished harvest", next: NavigateToRecent{}},
	{key: "q", label: "Quit", desc: "exit mapharvest"},
}

type HomeModel struct {
	cursor  int
	version string
}

func NewHomeModel(version string) HomeModel {
	return HomeModel{version: version}
}

func (m HomeModel) Init() tea.Cmd { return nil }

func (m HomeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if cur, moved := moveCursor(key.String(), m.cursor, len(homeMenu)); moved {
		m.cursor = cur
		return m, nil
	}
	if key.String() == "enter" {
		return m, choose(homeMenu[m.cursor])
	}
	for i, item := range homeMenu {
		if key.String() == item.key {
			m.cursor = i
			return m, choose(item)
		}
	}
	return m, nil
}

func choose(item menuItem) tea.Cmd {
	if item.next == nil {
		return tea.Quit
	}
	return navigate(item.next)
}

func (m HomeModel) View() string {
	muted := lipgloss.NewStyle().Foreground(styles.Muted)
	keyStyle := lipgloss.NewStyle().Foreground(styles.Secondary).Bold(true)

	var b strings.Builder
	logo := lipgloss.NewStyle().Foreground(styles.Primary).Bold(true).Render("mapharvest")
	b.WriteString(logo + muted.Render(" "+m.version) + "\n")
	b.WriteString(styles.Subtitle.Render("business listings, enriched") + "\n\n")

	for i, item := range homeMenu {
		b.WriteString(listPrefix(i == m.cursor, keyStyle.Render(item.key)+"  "+item.label))
		b.WriteString(muted.Render("  " + item.desc))
		b.WriteString("\n")
	}

	b.WriteString("\n" + styles.StatusBar.Render("↑↓ move • enter select • q quit"))
	return styles.Border.Render(b.String())
}
