package views

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rendis/mapharvest/internal/engine/storage"
	"github.com/rendis/mapharvest/internal/export"
	"github.com/rendis/mapharvest/internal/model"
	"github.com/rendis/mapharvest/internal/tui/styles"
)

type focusArea int

const (
	focusTable focusArea = iota
	focusFilter
	focusCard
	focusJSON
)

// ExplorerModel browses the records of one run database.
type ExplorerModel struct {
	dbPath     string
	label      string
	businesses []model.Business
	filtered   []model.Business
	table      table.Model
	filter     textinput.Model
	focus      focusArea
	selected   int
	width      int
	height     int
	err        error
	statusMsg  string

	cardScrollY int
	cardLines   []string
	jsonScrollY int
	jsonScrollX int
	jsonLines   []string
	jsonRaw     string
}

type runLoadedMsg struct {
	Businesses []model.Business
	Err        error
}

func NewExplorerModel(dbPath, label string) ExplorerModel {
	filter := textinput.New()
	filter.Placeholder = "Type to filter..."
	filter.CharLimit = 50

	return ExplorerModel{
		dbPath:   dbPath,
		label:    label,
		filter:   filter,
		selected: -1,
	}
}

func (m ExplorerModel) Init() tea.Cmd {
	path := m.dbPath
	return func() tea.Msg {
		store, err := storage.NewStore(path)
		if err != nil {
			return runLoadedMsg{Err: err}
		}
		defer store.Close()
		businesses, err := store.LoadAll()
		return runLoadedMsg{Businesses: businesses, Err: err}
	}
}

// Records returns the loaded records, after filtering.
func (m ExplorerModel) Records() []model.Business {
	return m.filtered
}

func (m ExplorerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
	case runLoadedMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		m.businesses = msg.Businesses
		m.filtered = msg.Businesses
		m.buildTable(m.filtered)
		m.updateLayout()
		m.selectRow(0)
		return m, nil
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg.String()); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusTable:
		m.table, cmd = m.table.Update(msg)
		if cursor := m.table.Cursor(); cursor != m.selected {
			m.selectRow(cursor)
		}
	case focusFilter:
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
	}
	return m, cmd
}

func (m *ExplorerModel) handleKey(key string) (tea.Cmd, bool) {
	if key == "ctrl+c" {
		return tea.Quit, true
	}
	switch m.focus {
	case focusTable:
		switch key {
		case "esc", "q":
			return navigate(NavigateToHome{}), true
		case "/", "tab":
			m.focus = focusFilter
			m.filter.Focus()
			return textinput.Blink, true
		case "1":
			m.focus = focusCard
			m.table.SetStyles(tableStyles(false))
			return nil, true
		case "2":
			m.focus = focusJSON
			m.table.SetStyles(tableStyles(false))
			return nil, true
		case "e":
			m.exportFiltered()
			return nil, true
		}
	case focusFilter:
		switch key {
		case "esc", "enter", "tab":
			m.focus = focusTable
			m.filter.Blur()
			return nil, true
		}
	case focusCard, focusJSON:
		lines := m.cardLines
		scroll := &m.cardScrollY
		if m.focus == focusJSON {
			lines, scroll = m.jsonLines, &m.jsonScrollY
		}
		switch key {
		case "esc":
			m.focus = focusTable
			m.table.SetStyles(tableStyles(true))
		case "up", "k":
			*scroll = max(0, *scroll-1)
		case "down", "j":
			*scroll = min(max(0, len(lines)-m.panelHeight()), *scroll+1)
		case "left", "h":
			if m.focus == focusJSON {
				m.jsonScrollX = max(0, m.jsonScrollX-4)
			}
		case "right", "l":
			if m.focus == focusJSON {
				m.jsonScrollX += 4
			}
		case "c":
			if m.focus == focusJSON {
				m.copyJSON()
			}
		}
		return nil, true
	}
	return nil, false
}

func (m *ExplorerModel) selectRow(i int) {
	m.cardScrollY, m.jsonScrollY, m.jsonScrollX = 0, 0, 0
	if i < 0 || i >= len(m.filtered) {
		m.selected = -1
		m.cardLines, m.jsonLines, m.jsonRaw = nil, nil, ""
		return
	}
	m.selected = i
	biz := m.filtered[i]
	m.cardLines = cardLines(biz)

	data, err := json.MarshalIndent(biz, "", "  ")
	if err != nil {
		m.jsonLines, m.jsonRaw = []string{"JSON error"}, ""
		return
	}
	m.jsonRaw = string(data)
	m.jsonLines = strings.Split(m.jsonRaw, "\n")
}

func cardLines(biz model.Business) []string {
	lines := []string{biz.Name}
	if biz.ReviewsAverage > 0 {
		lines = append(lines, fmt.Sprintf("%.1f (%d reviews)", biz.ReviewsAverage, biz.ReviewsCount))
	}
	if len(biz.Categories) > 0 {
		lines = append(lines, strings.Join(biz.Categories, ", "))
	}
	lines = append(lines, "")

	add := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("%-10s %s", label, value))
		}
	}
	add("Address:", biz.Address)
	add("Phone:", biz.PhoneNumber)
	add("Email:", biz.Email)
	add("Website:", biz.URL)
	add("Maps:", biz.GoogleURL)
	if biz.HasLocation() {
		add("Coords:", fmt.Sprintf("%.6f, %.6f", biz.Lat, biz.Lng))
	}

	if len(biz.SocialMedia) > 0 {
		lines = append(lines, "")
		platforms := make([]string, 0, len(biz.SocialMedia))
		for p := range biz.SocialMedia {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		for _, p := range platforms {
			add(p+":", biz.SocialMedia[p])
		}
	}
	if biz.BusinessHours != "" {
		lines = append(lines, "")
		add("Hours:", biz.BusinessHours)
	}
	return lines
}

func (m *ExplorerModel) buildTable(businesses []model.Business) {
	nameW, catW, emailW, ratingW, phoneW := 28, 18, 26, 6, 16
	if m.width > 120 {
		extra := m.width - 120
		nameW += extra * 4 / 10
		catW += extra * 2 / 10
		emailW += extra * 4 / 10
	}

	columns := []table.Column{
		{Title: "Name", Width: nameW},
		{Title: "Category", Width: catW},
		{Title: "Email", Width: emailW},
		{Title: "Rating", Width: ratingW},
		{Title: "Phone", Width: phoneW},
	}

	rows := make([]table.Row, len(businesses))
	for i, b := range businesses {
		var rating, category string
		if b.ReviewsAverage > 0 {
			rating = fmt.Sprintf("%.1f", b.ReviewsAverage)
		}
		if len(b.Categories) > 0 {
			category = b.Categories[0]
		}
		rows[i] = table.Row{
			truncate(b.Name, nameW),
			truncate(category, catW),
			truncate(b.Email, emailW),
			rating,
			b.PhoneNumber,
		}
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(max(5, m.height/2-4)),
	)
	t.SetStyles(tableStyles(m.focus != focusCard && m.focus != focusJSON))
	m.table = t
}

func tableStyles(focused bool) table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Muted).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.Secondary)
	s.Selected = s.Selected.
		Foreground(styles.Selection).
		Background(styles.Primary).
		Bold(true)
	if !focused {
		s.Header = s.Header.Foreground(styles.Muted)
		s.Selected = s.Selected.Foreground(styles.Text).Background(styles.Dim).Bold(false)
	}
	return s
}

func (m ExplorerModel) panelHeight() int {
	return max(6, m.height/2-6)
}

func (m *ExplorerModel) updateLayout() {
	if m.width <= 0 {
		return
	}
	m.buildTable(m.filtered)
}

// normalize strips diacritics and lowercases text for matching.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}), norm.NFC)
	result, _, _ := transform.String(t, strings.ToLower(s))
	return result
}

// matches reports whether every word of query occurs in the searchable fields of b.
func matches(b model.Business, words []string) bool {
	haystack := normalize(strings.Join([]string{
		b.Name, b.Address, b.Email, b.URL, b.PhoneNumber, strings.Join(b.Categories, " "),
	}, " "))
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}

func (m *ExplorerModel) applyFilter() {
	words := strings.Fields(normalize(m.filter.Value()))
	if len(words) == 0 {
		m.filtered = m.businesses
	} else {
		m.filtered = nil
		for _, b := range m.businesses {
			if matches(b, words) {
				m.filtered = append(m.filtered, b)
			}
		}
	}
	m.buildTable(m.filtered)
	m.selectRow(0)
}

func (m ExplorerModel) View() string {
	if m.err != nil {
		return styles.ErrorText.Render(fmt.Sprintf("Error loading run: %v", m.err))
	}

	var b strings.Builder

	title := fmt.Sprintf("%d businesses", len(m.businesses))
	if m.label != "" {
		title = m.label + ": " + title
	}
	b.WriteString(styles.Title.Render(title))
	if len(m.filtered) != len(m.businesses) {
		b.WriteString(styles.Hint.Render(fmt.Sprintf(" (showing %d)", len(m.filtered))))
	}
	b.WriteString("\n\n")

	filterStyle := lipgloss.NewStyle().Foreground(styles.Muted)
	if m.focus == focusFilter {
		filterStyle = lipgloss.NewStyle().Foreground(styles.Primary)
	}
	b.WriteString(filterStyle.Render("Filter: "))
	b.WriteString(m.filter.View())
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	detailW := max(40, m.width-2)
	panelH := m.panelHeight()
	cardW := detailW * 2 / 5
	jsonW := detailW - cardW - 1

	card := m.panel("[1] Details", m.viewCard(max(20, cardW-4), panelH), cardW, panelH, m.focus == focusCard)
	raw := m.panel("[2] JSON", m.viewJSON(max(20, jsonW-4), panelH), jsonW, panelH, m.focus == focusJSON)
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, card, " ", raw))
	b.WriteString("\n\n")

	if m.statusMsg != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(styles.Success).Render(m.statusMsg))
		b.WriteString("\n")
	}

	var status string
	switch m.focus {
	case focusTable:
		status = "↑↓ navigate • 1 details • 2 json • / filter • e export • esc back"
	case focusFilter:
		status = "type to filter • esc back"
	case focusCard:
		status = "↑↓ scroll • esc back to table"
	case focusJSON:
		status = "↑↓ scroll • ←→ pan • c copy json • esc back to table"
	}
	b.WriteString(styles.StatusBar.Render(status))

	return b.String()
}

func (m ExplorerModel) panel(label, content string, w, h int, focused bool) string {
	color := styles.Muted
	if focused {
		color = styles.Primary
	}
	box := styles.Panel.
		BorderForeground(color).
		Width(w - 2).
		Height(h).
		Render(content)
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(label) + "\n" + box
}

// window clamps scroll so that h lines fit and returns the visible range.
func window(n, scroll, h int) (int, int) {
	scroll = max(0, min(scroll, n-h))
	return scroll, min(n, scroll+h)
}

func (m ExplorerModel) viewCard(w, h int) string {
	if m.selected < 0 || len(m.cardLines) == 0 {
		return styles.Hint.Render("Select a business\nto view details")
	}
	start, end := window(len(m.cardLines), m.cardScrollY, h)

	label := lipgloss.NewStyle().Foreground(styles.Muted)
	link := lipgloss.NewStyle().Foreground(styles.Primary)
	text := lipgloss.NewStyle().Foreground(styles.Text)

	var sb strings.Builder
	for i, line := range m.cardLines[start:end] {
		switch {
		case start+i == 0:
			sb.WriteString(text.Bold(true).Render(truncate(line, w)))
		case strings.Contains(line, "reviews)"):
			sb.WriteString(lipgloss.NewStyle().Foreground(styles.Warning).Render(truncate(line, w)))
		case strings.Contains(line, "://"):
			lbl, val, _ := strings.Cut(line, " ")
			sb.WriteString(label.Render(fmt.Sprintf("%-10s ", lbl)))
			sb.WriteString(link.Render(truncate(strings.TrimSpace(val), w-11)))
		default:
			sb.WriteString(text.Render(truncate(line, w)))
		}
		if start+i < end-1 {
			sb.WriteString("\n")
		}
	}
	if start > 0 {
		sb.WriteString("\n" + label.Render("  ▲ more above"))
	}
	if end < len(m.cardLines) {
		sb.WriteString("\n" + label.Render("  ▼ more below"))
	}
	return sb.String()
}

func (m ExplorerModel) viewJSON(w, h int) string {
	if m.selected < 0 || len(m.jsonLines) == 0 {
		return styles.Hint.Render("Select a business\nto view JSON")
	}
	start, end := window(len(m.jsonLines), m.jsonScrollY, h)

	plain := lipgloss.NewStyle().Foreground(styles.Muted)
	keyStyle := lipgloss.NewStyle().Foreground(styles.Secondary)
	valStyle := lipgloss.NewStyle().Foreground(styles.Success)

	var sb strings.Builder
	for i, line := range m.jsonLines[start:end] {
		display := ""
		if m.jsonScrollX < len(line) {
			display = line[m.jsonScrollX:]
		}
		display = truncate(display, w)

		if k, v, ok := strings.Cut(display, "\":"); ok && strings.HasPrefix(strings.TrimSpace(display), "\"") {
			sb.WriteString(keyStyle.Render(k + "\""))
			sb.WriteString(valStyle.Render(":" + v))
		} else {
			sb.WriteString(plain.Render(display))
		}
		if start+i < end-1 {
			sb.WriteString("\n")
		}
	}
	if start > 0 || end < len(m.jsonLines) {
		indicator := fmt.Sprintf("  [%d/%d]", start+1, len(m.jsonLines))
		if m.jsonScrollX > 0 {
			indicator += fmt.Sprintf(" ←%d", m.jsonScrollX)
		}
		sb.WriteString("\n" + plain.Render(indicator))
	}
	return sb.String()
}

func (m *ExplorerModel) copyJSON() {
	if m.jsonRaw == "" {
		return
	}
	if err := clipboard.WriteAll(m.jsonRaw); err != nil {
		m.statusMsg = fmt.Sprintf("Copy failed: %v", err)
		return
	}
	m.statusMsg = "JSON copied to clipboard"
}

// exportFiltered writes the visible rows as CSV and XLSX next to the run database.
func (m *ExplorerModel) exportFiltered() {
	data := m.filtered
	if len(data) == 0 {
		data = m.businesses
	}
	base := strings.TrimSuffix(m.dbPath, filepath.Ext(m.dbPath))
	if err := export.WriteCSV(base+".csv", data); err != nil {
		m.statusMsg = fmt.Sprintf("Export error: %v", err)
		return
	}
	if err := export.WriteXLSX(base+".xlsx", data); err != nil {
		m.statusMsg = fmt.Sprintf("Export error: %v", err)
		return
	}
	m.statusMsg = fmt.Sprintf("Exported %d rows to %s.{csv,xlsx}", len(data), filepath.Base(base))
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
