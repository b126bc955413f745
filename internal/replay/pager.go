package replay

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// pollInterval is how often a live pager re-renders a still-growing session.
const pollInterval = 500 * time.Millisecond

// Pager is a scrollable terminal view over a session's rendered content,
// either a fixed snapshot (Run) or a file that keeps growing as a live
// session writes to it (RunLive).
type Pager struct {
	title string
}

// NewPager constructs a Pager with the given title, shown in its header.
func NewPager(title string) *Pager {
	return &Pager{title: title}
}

type pagerModel struct {
	title    string
	vp       viewport.Model
	ready    bool
	content  string
	liveFunc func() (string, error)
	liveErr  error
}

type tickMsg struct{}

func (m pagerModel) Init() tea.Cmd {
	if m.liveFunc != nil {
		return tickEvery()
	}
	return nil
}

func tickEvery() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg{} })
}

func (m pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "g":
			m.vp.GotoTop()
		case "G":
			m.vp.GotoBottom()
		}
	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-headerHeight)
			m.vp.SetContent(wordwrap.String(m.content, msg.Width))
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - headerHeight
		}
	case tickMsg:
		if m.liveFunc != nil {
			wasAtBottom := m.vp.AtBottom()
			content, err := m.liveFunc()
			if err != nil {
				m.liveErr = err
			} else {
				m.content = content
				m.vp.SetContent(wordwrap.String(m.content, m.vp.Width))
				if wasAtBottom {
					m.vp.GotoBottom()
				}
			}
			return m, tickEvery()
		}
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m pagerModel) View() string {
	if !m.ready {
		return "initializing…"
	}
	return m.headerView() + "\n" + m.vp.View()
}

func (m pagerModel) headerView() string {
	status := fmt.Sprintf("%d%%", int(m.vp.ScrollPercent()*100))
	if m.liveErr != nil {
		status = errorStyle.Render("tail error: " + m.liveErr.Error())
	}
	return titleStyle.Render(m.title) + "  " + dimStyle.Render(status)
}

// Run displays content in a static, scrollable pager until the user quits.
func (p *Pager) Run(content string) error {
	m := pagerModel{title: p.title, content: content}
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// RunLive displays a view that re-invokes renderFunc on an interval,
// refreshing the buffer as the underlying session keeps writing — used to
// follow a session that is still in progress. If watchPath is non-empty, an
// fsnotify watch on it nudges an extra refresh as soon as a write lands,
// rather than waiting out the poll interval; a watch failure is silent,
// since the poll loop already covers the same ground.
func (p *Pager) RunLive(renderFunc func() (string, error), watchPath string) error {
	content, err := renderFunc()
	if err != nil {
		content = ""
	}
	m := pagerModel{title: p.title, content: content, liveFunc: renderFunc}
	program := tea.NewProgram(m, tea.WithAltScreen())

	if watchPath != "" {
		stop := make(chan struct{})
		defer close(stop)
		_ = watchForWrites(watchPath, func() { program.Send(tickMsg{}) }, stop)
	}

	_, runErr := program.Run()
	return runErr
}
