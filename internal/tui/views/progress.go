package views

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/mapharvest/internal/config"
	"github.com/rendis/mapharvest/internal/engine/harvest"
	"github.com/rendis/mapharvest/internal/model"
	"github.com/rendis/mapharvest/internal/runner"
	"github.com/rendis/mapharvest/internal/tui/styles"
)

const liveRows = 8

type progressTickMsg time.Time

type harvestCompleteMsg struct {
	Result *runner.Result
	Err    error
}

// sharedState survives bubbletea value copies of ProgressModel.
type sharedState struct {
	mu     sync.Mutex
	stats  *harvest.Stats
	cancel context.CancelFunc
	latest []model.Business
	last   string
}

func (s *sharedState) getCancel() context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel
}

func (s *sharedState) observe(p model.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = p.Name
	from := max(0, len(p.Snapshot)-liveRows)
	s.latest = append(s.latest[:0], p.Snapshot[from:]...)
}

func (s *sharedState) view() ([]model.Business, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Business(nil), s.latest...), s.last
}

type ProgressModel struct {
	req         StartHarvestMsg
	settings    config.Settings
	shared      *sharedState
	progress    progress.Model
	table       table.Model
	startTime   time.Time
	done        bool
	finished    bool
	result      *runner.Result
	err         error
	confirmQuit bool
	width       int
	height      int
}

func NewProgressModel(req StartHarvestMsg, s config.Settings) ProgressModel {
	s.Target = req.Target
	s.Workers = req.Workers
	s.OutputDir = req.Output

	t := table.New(
		table.WithColumns(liveColumns()),
		table.WithHeight(liveRows),
		table.WithFocused(false),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Muted).
		BorderBottom(true).
		Foreground(styles.Secondary)
	ts.Selected = ts.Selected.Foreground(styles.Text).Bold(false)
	t.SetStyles(ts)

	return ProgressModel{
		req:       req,
		settings:  s,
		shared:    &sharedState{stats: &harvest.Stats{}},
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		table:     t,
		startTime: time.Now(),
	}
}

func liveColumns() []table.Column {
	return []table.Column{
		{Title: "Name", Width: 28},
		{Title: "Phone", Width: 16},
		{Title: "Email", Width: 26},
		{Title: "Rating", Width: 6},
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.startHarvest(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(300*time.Millisecond, func(t time.Time) tea.Msg {
		return progressTickMsg(t)
	})
}

func (m ProgressModel) startHarvest() tea.Cmd {
	shared := m.shared
	job := runner.Job{Query: m.req.Query, Location: m.req.Location, Settings: m.settings}
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		shared.mu.Lock()
		shared.cancel = cancel
		shared.mu.Unlock()

		res, err := runner.Run(ctx, job, runner.Hooks{
			Stats:      shared.stats,
			OnProgress: shared.observe,
		})
		return harvestCompleteMsg{Result: res, Err: err}
	}
}

// Finished returns the result only from the update that completed the harvest.
func (m ProgressModel) Finished() *runner.Result {
	if !m.finished {
		return nil
	}
	return m.result
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.finished = false
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if cancel := m.shared.getCancel(); cancel != nil {
				cancel()
			}
			return m, tea.Quit
		case "enter":
			if m.done {
				return m, m.openResults()
			}
			m.confirmQuit = false
			return m, nil
		case "esc":
			if m.done {
				return m, navigate(NavigateToHome{})
			}
			if m.confirmQuit {
				// Records collected so far are still exported.
				if cancel := m.shared.getCancel(); cancel != nil {
					cancel()
				}
				m.confirmQuit = false
				return m, nil
			}
			m.confirmQuit = true
			return m, nil
		default:
			m.confirmQuit = false
		}
	case progressTickMsg:
		m.refreshTable()
		if m.done {
			return m, nil
		}
		return m, tickCmd()
	case harvestCompleteMsg:
		m.done = true
		m.finished = true
		m.result = msg.Result
		m.err = msg.Err
		if m.result != nil {
			m.setRows(m.result.Records[max(0, len(m.result.Records)-liveRows):])
		}
		return m, nil
	}

	pModel, cmd := m.progress.Update(msg)
	m.progress = pModel.(progress.Model)
	return m, cmd
}

func (m ProgressModel) openResults() tea.Cmd {
	if m.result == nil || m.result.DBPath == "" {
		return navigate(NavigateToHome{})
	}
	return navigate(NavigateToExplorer{DBPath: m.result.DBPath, Label: m.result.Params.SearchText()})
}

func (m *ProgressModel) refreshTable() {
	latest, _ := m.shared.view()
	m.setRows(latest)
}

func (m *ProgressModel) setRows(bs []model.Business) {
	rows := make([]table.Row, len(bs))
	for i, b := range bs {
		rating := ""
		if b.ReviewsAverage > 0 {
			rating = fmt.Sprintf("%.1f", b.ReviewsAverage)
		}
		rows[i] = table.Row{truncate(b.Name, 28), b.PhoneNumber, truncate(b.Email, 26), rating}
	}
	m.table.SetRows(rows)
}

func (m ProgressModel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("Harvesting: %q", m.req.Query)
	if m.req.Location != "" {
		title += " in " + m.req.Location
	}
	b.WriteString(styles.Title.Render(title))
	b.WriteString("\n\n")

	b.WriteString(styles.Panel.Width(32).Render(m.renderStats()))
	b.WriteString("\n\n")

	accepted := m.shared.stats.Accepted.Load()
	b.WriteString(m.progress.ViewAs(min(1, float64(accepted)/float64(max(1, m.req.Target)))))
	b.WriteString("\n\n")

	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	switch {
	case m.done:
		b.WriteString(m.renderOutcome())
		b.WriteString("\n\n")
		b.WriteString(styles.StatusBar.Render("enter explore results • esc home"))
	case m.confirmQuit:
		b.WriteString(styles.ErrorText.Render("Press ESC again to stop; collected records are still saved"))
		b.WriteString("\n")
		b.WriteString(styles.StatusBar.Render("esc confirm stop • any key continue"))
	default:
		if _, last := m.shared.view(); last != "" {
			b.WriteString(styles.Hint.Render("latest: " + last))
			b.WriteString("\n")
		}
		b.WriteString(styles.StatusBar.Render("esc stop • ctrl+c quit"))
	}

	return b.String()
}

func (m ProgressModel) renderOutcome() string {
	if m.result == nil {
		return styles.ErrorText.Render(fmt.Sprintf("Error: %v", m.err))
	}
	var sb strings.Builder
	status := fmt.Sprintf("Complete! %d businesses collected", len(m.result.Records))
	if runner.Cancelled(m.result.Err) {
		status = fmt.Sprintf("Stopped early, %d businesses collected", len(m.result.Records))
	}
	sb.WriteString(styles.SuccessText.Render(status))
	muted := lipgloss.NewStyle().Foreground(styles.Muted)
	for _, f := range m.result.Files {
		sb.WriteString("\n" + muted.Render("  "+f))
	}
	if m.result.DBPath != "" {
		sb.WriteString("\n" + muted.Render("  "+m.result.DBPath))
	}
	if m.err != nil {
		sb.WriteString("\n" + styles.ErrorText.Render(fmt.Sprintf("Export error: %v", m.err)))
	}
	return sb.String()
}

func (m ProgressModel) renderStats() string {
	var sb strings.Builder
	elapsed := time.Since(m.startTime).Truncate(time.Second)
	if m.done && m.result != nil && m.result.Duration > 0 {
		elapsed = m.result.Duration
	}
	st := m.shared.stats

	row := func(label, value string, style lipgloss.Style) {
		sb.WriteString(styles.Label.Render(label))
		sb.WriteString(style.Render(value))
		sb.WriteString("\n")
	}

	accepted := st.Accepted.Load()
	row("Collected:", fmt.Sprintf("%d/%d", accepted, m.req.Target), styles.Value)
	row("Found:", fmt.Sprintf("%d", st.Discovered.Load()), styles.Value)
	row("Emails:", fmt.Sprintf("%d", st.Emails.Load()), styles.Value)
	row("Dupes:", fmt.Sprintf("%d", st.Duplicates.Load()+st.Dropped.Load()), styles.Value)

	errStyle := styles.Value
	if st.Errors.Load() > 0 {
		errStyle = styles.ErrorText
	}
	row("Errors:", fmt.Sprintf("%d", st.Errors.Load()), errStyle)
	row("Browsers:", fmt.Sprintf("%d", st.Sessions.Load()), styles.Value)
	row("Elapsed:", elapsed.String(), styles.Value)

	if accepted > 0 && !m.done && int(accepted) < m.req.Target {
		rate := float64(accepted) / elapsed.Seconds()
		eta := time.Duration(float64(int64(m.req.Target)-accepted) / rate * float64(time.Second)).Truncate(time.Second)
		row("ETA:", "~"+eta.String(), styles.Value)
	}

	return strings.TrimSuffix(sb.String(), "\n")
}
