package views

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rendis/mapharvest/internal/config"
	"github.com/rendis/mapharvest/internal/tui/styles"
)

const (
	fieldQuery = iota
	fieldLocation
	fieldTarget
	fieldWorkers
	fieldOutput
	fieldCount
)

var fieldLabels = [fieldCount]string{"Query:", "Location:", "Target:", "Workers:", "Output:"}

type SearchModel struct {
	inputs  []textinput.Model
	focused int
	err     string
}

// NewSearchModel pre-fills the numeric fields from the loaded settings.
func NewSearchModel(s config.Settings) SearchModel {
	inputs := make([]textinput.Model, fieldCount)
	inputs[fieldQuery] = newInput("bakery, dentist, coworking...", "", 50)
	inputs[fieldLocation] = newInput("optional: city, region or country", "", 50)
	inputs[fieldTarget] = newInput("20", strconv.Itoa(s.Target), 6)
	inputs[fieldWorkers] = newInput("3", strconv.Itoa(s.Workers), 6)
	inputs[fieldOutput] = newInput("./harvests", s.OutputDir, 50)
	inputs[fieldQuery].Focus()

	return SearchModel{inputs: inputs}
}

func newInput(placeholder, value string, width int) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 120
	ti.Width = width
	if value != "" {
		ti.SetValue(value)
	}
	return ti
}

func (m SearchModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m SearchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			return m, navigate(NavigateToHome{})
		case "down", "tab":
			m.err = ""
			return m, m.focus(m.focused + 1)
		case "up", "shift+tab":
			m.err = ""
			return m, m.focus(m.focused - 1)
		case "enter":
			if cmd := m.submit(); cmd != nil {
				return m, cmd
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
	return m, cmd
}

func (m *SearchModel) focus(idx int) tea.Cmd {
	m.inputs[m.focused].Blur()
	m.focused = (idx + fieldCount) % fieldCount
	return m.inputs[m.focused].Focus()
}

func (m *SearchModel) submit() tea.Cmd {
	req, err := m.request()
	if err != nil {
		m.err = err.Error()
		return nil
	}
	return func() tea.Msg { return req }
}

func (m SearchModel) request() (StartHarvestMsg, error) {
	value := func(i int) string { return strings.TrimSpace(m.inputs[i].Value()) }

	req := StartHarvestMsg{
		Query:    value(fieldQuery),
		Location: value(fieldLocation),
		Output:   value(fieldOutput),
	}
	if req.Query == "" {
		return req, errors.New("query is required")
	}
	if req.Output == "" {
		return req, errors.New("output directory is required")
	}
	var err error
	if req.Target, err = strconv.Atoi(value(fieldTarget)); err != nil || req.Target < 1 {
		return req, errors.New("target must be a positive number")
	}
	if req.Workers, err = strconv.Atoi(value(fieldWorkers)); err != nil || req.Workers < 1 || req.Workers > 16 {
		return req, errors.New("workers must be between 1 and 16")
	}
	return req, nil
}

func (m SearchModel) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("New Harvest") + "\n\n")
	for i := range fieldCount {
		b.WriteString(fmt.Sprintf("%s %s\n", styles.Label.Render(fieldLabels[i]), m.inputs[i].View()))
		if i == fieldWorkers && m.focused == fieldWorkers {
			b.WriteString(styles.Hint.Render("  one browser per worker plus one for the search") + "\n")
		}
	}

	if m.err != "" {
		b.WriteString("\n")
		b.WriteString(styles.ErrorText.Render("  " + m.err))
	}

	b.WriteString("\n\n")
	b.WriteString(styles.StatusBar.Render("enter start • tab next • esc back"))

	return styles.Border.Render(b.String())
}

// StartHarvestMsg carries a validated search form.
type StartHarvestMsg struct {
	Query    string
	Location string
	Target   int
	Workers  int
	Output   string
}
