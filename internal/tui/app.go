// Package tui is the interactive front-end: start harvests, watch them run and
// browse the run databases they leave behind.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/mapharvest/internal/config"
	"github.com/rendis/mapharvest/internal/tui/styles"
	"github.com/rendis/mapharvest/internal/tui/views"
)

// App routes messages to the active screen. Screens are rebuilt on every
// navigation, so only the active one is kept.
type App struct {
	settings config.Settings
	version  string
	screen   tea.Model
	notice   string
	width    int
	height   int
}

func NewApp(s config.Settings, version string) App {
	return App{
		settings: s,
		version:  version,
		screen:   views.NewHomeModel(version),
	}
}

func (a App) Init() tea.Cmd {
	return a.screen.Init()
}

func (a App) harvesting() bool {
	_, ok := a.screen.(views.ProgressModel)
	return ok
}

// open makes next the active screen and replays the terminal size to it.
func (a App) open(next tea.Model) (tea.Model, tea.Cmd) {
	a.screen = next
	a.notice = ""
	w, h := a.width, a.height
	resize := func() tea.Msg { return tea.WindowSizeMsg{Width: w, Height: h} }
	return a, tea.Batch(next.Init(), resize)
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The progress screen cancels its harvest before quitting.
		if msg.String() == "ctrl+c" && !a.harvesting() {
			return a, tea.Quit
		}
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
	case views.NavigateToHome:
		return a.open(views.NewHomeModel(a.version))
	case views.NavigateToSearch:
		return a.open(views.NewSearchModel(a.settings))
	case views.NavigateToLoad:
		return a.open(views.NewFilePickerModel(a.settings.OutputDir))
	case views.NavigateToRecent:
		saved := LoadRecent()
		entries := make([]views.RecentEntry, len(saved))
		for i, e := range saved {
			entries[i] = views.RecentEntry(e)
		}
		return a.open(views.NewRecentModel(entries))
	case views.StartHarvestMsg:
		return a.open(views.NewProgressModel(msg, a.settings))
	case views.NavigateToExplorer:
		return a.open(views.NewExplorerModel(msg.DBPath, msg.Label))
	case views.ForgetRecent:
		a.notice = ""
		if err := ForgetRecent(msg.Path); err != nil {
			a.notice = "recent runs not updated: " + err.Error()
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.screen, cmd = a.screen.Update(msg)

	if p, ok := a.screen.(views.ProgressModel); ok {
		if res := p.Finished(); res != nil && res.DBPath != "" {
			entry := RecentEntry{Path: res.DBPath, Label: res.Params.SearchText(), Records: len(res.Records)}
			if err := SaveRecent(entry); err != nil {
				a.notice = "recent runs not updated: " + err.Error()
			}
		}
	}
	return a, cmd
}

func (a App) View() string {
	content := a.screen.View()
	if a.notice != "" {
		content += "\n" + styles.ErrorText.Render(a.notice)
	}
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Top, content)
}

// Run starts the TUI with s as the defaults of every new harvest.
func Run(s config.Settings, version string) error {
	_, err := tea.NewProgram(NewApp(s, version), tea.WithAltScreen()).Run()
	return err
}
