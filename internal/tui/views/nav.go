package views

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rendis/mapharvest/internal/tui/styles"
)

// Navigation messages handled by the app router.
type (
	NavigateToHome   struct{}
	NavigateToSearch struct{}
	NavigateToLoad   struct{}
	NavigateToRecent struct{}
)

// NavigateToExplorer opens a run database.
type NavigateToExplorer struct {
	DBPath string
	Label  string
}

// ForgetRecent drops a run from the recent list. The file itself is kept.
type ForgetRecent struct {
	Path string
}

func navigate(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

// moveCursor applies a list movement key to cur for a list of n items. The
// second result reports whether key was a movement key.
func moveCursor(key string, cur, n int) (int, bool) {
	switch key {
	case "up", "k":
		return max(0, cur-1), true
	case "down", "j":
		return max(0, min(n-1, cur+1)), true
	case "home", "g":
		return 0, true
	case "end", "G":
		return max(0, n-1), true
	}
	return cur, false
}

// listPrefix renders the marker and label of one selectable row.
func listPrefix(active bool, label string) string {
	if active {
		return "> " + styles.ActiveItem.Render(label)
	}
	return "  " + styles.InactiveItem.Render(label)
}
