package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailcross/internal/model"
	"github.com/nhle/mailcross/internal/sync"
	"github.com/nhle/mailcross/internal/theme"
	"github.com/nhle/mailcross/internal/ui"
	helpview "github.com/nhle/mailcross/internal/ui/help"
)

// TickInterval is how often the UI drains orchestrator events.
const TickInterval = 100 * time.Millisecond

// Orchestrator is the part of sync.Orchestrator the UI drives.
type Orchestrator interface {
	Submit(cmd sync.Command) string
	Drain() []sync.Event
	Accounts() []model.Account
}

// Pane identifies which list receives j/k.
type Pane int

const (
	PaneFolders Pane = iota
	PaneEmails
)

type tickMsg time.Time

// Model is the root Bubble Tea model. It never touches the network; all
// work is submitted to the orchestrator and results arrive as events on
// each tick.
type Model struct {
	orch       Orchestrator
	keys       *KeyMap
	layout     ui.Layout
	helpView   helpview.Model
	fetchLimit int
	ready      bool
	showHelp   bool

	accounts []model.Account
	active   int
	pane     Pane
	folder   int
	email    int

	// loaded maps an account to the folder its Emails belong to.
	loaded map[string]string
	// pending maps the ID of each unanswered command to its account.
	pending map[string]string

	status    string
	statusErr bool
}

// New creates the root model. fetchLimit is the header count requested
// when a folder is opened.
func New(orch Orchestrator, fetchLimit int) Model {
	keys := DefaultKeyMap()
	if fetchLimit <= 0 {
		fetchLimit = 50
	}
	return Model{
		orch:       orch,
		keys:       keys,
		helpView:   helpview.New(keys, 80, 24),
		fetchLimit: fetchLimit,
		accounts:   orch.Accounts(),
		loaded:     make(map[string]string),
		pending:    make(map[string]string),
	}
}

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the drain loop.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles terminal input and the drain tick.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.helpView.SetSize(msg.Width, m.layout.ContentHeight())
		m.ready = true
		return m, nil

	case tickMsg:
		m = m.drain()
		return m, tick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// drain applies every queued event and refreshes the account snapshot.
func (m Model) drain() Model {
	events := m.orch.Drain()
	for _, ev := range events {
		m.apply(ev)
	}
	if len(events) > 0 {
		m.accounts = m.orch.Accounts()
	}
	m.clamp()
	return m
}

func (m *Model) apply(ev sync.Event) {
	acct := ev.Target()
	// Connected is followed by the chained folder refresh.
	if _, chained := ev.(sync.Connected); !chained {
		delete(m.pending, ev.CommandID())
	}

	switch e := ev.(type) {
	case sync.Connected:
		m.setStatus(fmt.Sprintf("Connected to %s", acct), false)
	case sync.Disconnected:
		delete(m.loaded, acct)
		m.setStatus(fmt.Sprintf("Disconnected from %s", acct), false)
	case sync.ConnectionFailed:
		m.setStatus(fmt.Sprintf("%s: %s", acct, e.Reason), true)
	case sync.FoldersUpdated:
		m.setStatus(fmt.Sprintf("%s: %d folders", acct, len(e.Folders)), false)
	case sync.EmailsUpdated:
		m.loaded[acct] = e.Folder
		m.email = 0
		m.setStatus(fmt.Sprintf("%s: %d messages in %s", acct, len(e.Emails), e.Folder), false)
	case sync.EmailDeleted:
		m.setStatus(fmt.Sprintf("Removed message %d", e.ID), false)
	case sync.AccountAdded:
		m.setStatus(fmt.Sprintf("Added %s", e.Account.Email), false)
	case sync.AccountRemoved:
		delete(m.loaded, acct)
		m.setStatus(fmt.Sprintf("Removed %s", acct), false)
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m *Model) clamp() {
	if m.active >= len(m.accounts) {
		m.active = 0
	}
	acct, ok := m.current()
	if !ok {
		m.folder, m.email = 0, 0
		return
	}
	m.folder = clampIndex(m.folder, len(acct.Folders))
	m.email = clampIndex(m.email, len(acct.Emails))
}

func clampIndex(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (m Model) current() (model.Account, bool) {
	if m.active < 0 || m.active >= len(m.accounts) {
		return model.Account{}, false
	}
	return m.accounts[m.active], true
}

func (m Model) submit(cmd sync.Command) Model {
	id := m.orch.Submit(cmd)
	// A successful StoreCredentials publishes nothing.
	if _, silent := cmd.(sync.StoreCredentials); !silent {
		m.pending[id] = cmd.Target()
	}
	return m
}

// busy reports whether any command for account is still unanswered.
func (m Model) busy(account string) bool {
	for _, a := range m.pending {
		if a == account {
			return true
		}
	}
	return false
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if key.Matches(msg, m.keys.Help) {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if m.showHelp {
		return m, nil
	}

	if key.Matches(msg, m.keys.NextAccount) {
		if len(m.accounts) > 0 {
			m.active = (m.active + 1) % len(m.accounts)
			m.folder, m.email, m.pane = 0, 0, PaneFolders
		}
		return m, nil
	}

	acct, ok := m.current()
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		m.move(acct, 1)
	case key.Matches(msg, m.keys.Up):
		m.move(acct, -1)
	case key.Matches(msg, m.keys.SwitchPane):
		if m.pane == PaneFolders {
			m.pane = PaneEmails
		} else {
			m.pane = PaneFolders
		}
	case key.Matches(msg, m.keys.Connect):
		m = m.submit(sync.Connect{Account: acct.Email})
		m.setStatus(fmt.Sprintf("Connecting to %s...", acct.Email), false)
	case key.Matches(msg, m.keys.Disconnect):
		m = m.submit(sync.Disconnect{Account: acct.Email})
	case key.Matches(msg, m.keys.Refresh):
		m = m.submit(sync.RefreshFolders{Account: acct.Email})
	case key.Matches(msg, m.keys.Open):
		if m.folder < len(acct.Folders) {
			name := acct.Folders[m.folder].Name
			m = m.submit(sync.FetchEmails{Account: acct.Email, Folder: name, Limit: m.fetchLimit})
			m.pane = PaneEmails
			m.setStatus(fmt.Sprintf("Loading %s...", name), false)
		}
	case key.Matches(msg, m.keys.Delete):
		if m.pane == PaneEmails && m.email < len(acct.Emails) {
			m = m.submit(sync.DeleteEmail{Account: acct.Email, ID: acct.Emails[m.email].ID})
		}
	}
	return m, nil
}

func (m *Model) move(acct model.Account, delta int) {
	if m.pane == PaneFolders {
		m.folder = clampIndex(m.folder+delta, len(acct.Folders))
		return
	}
	m.email = clampIndex(m.email+delta, len(acct.Emails))
}

// View renders the header, the three panes and the status bar.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("mailcross", m.renderTabs())

	var content string
	if m.showHelp {
		content = m.helpView.View()
	} else {
		focused := 0
		if m.pane == PaneEmails {
			focused = 1
		}
		content = m.layout.RenderPanes(focused, m.renderFolders(), m.renderEmails(), m.renderPreview())
	}

	return m.layout.RenderWithFrame(header, content, m.layout.RenderStatusBar(m.statusLine()))
}

func (m Model) renderTabs() string {
	if len(m.accounts) == 0 {
		return theme.HelpStyle.Render("no accounts")
	}
	tabs := make([]string, 0, len(m.accounts))
	for i, a := range m.accounts {
		label := a.Name
		if label == "" {
			label = a.Email
		}
		badge := theme.ConnectionBadge(a.Connected, m.busy(a.Email))
		tabs = append(tabs, badge+theme.AccountTabStyle(a.Connected, i == m.active).Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderFolders() string {
	acct, ok := m.current()
	if !ok {
		return theme.HelpStyle.Render("Add an account with `mailcross accounts add`.")
	}
	if !acct.HasServer() {
		return theme.HelpStyle.Render("Server not configured")
	}
	if len(acct.Folders) == 0 {
		if acct.Connected {
			return theme.HelpStyle.Render("No folders")
		}
		return theme.HelpStyle.Render("Press c to connect")
	}

	lines := make([]string, 0, len(acct.Folders))
	for i, f := range acct.Folders {
		lines = append(lines, renderItem(f.DisplayName(), i == m.folder && m.pane == PaneFolders))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderEmails() string {
	acct, ok := m.current()
	if !ok {
		return ""
	}
	if len(acct.Emails) == 0 {
		if _, loaded := m.loaded[acct.Email]; loaded {
			return theme.HelpStyle.Render("No messages")
		}
		return theme.HelpStyle.Render("Select a folder and press enter")
	}

	lines := make([]string, 0, len(acct.Emails))
	for i, e := range acct.Emails {
		lines = append(lines, renderItem(e.Subject, i == m.email && m.pane == PaneEmails))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderPreview() string {
	acct, ok := m.current()
	if !ok || m.email >= len(acct.Emails) {
		return ""
	}
	e := acct.Emails[m.email]
	return strings.Join([]string{
		"From:    " + e.Sender,
		"To:      " + e.Recipient,
		"Date:    " + e.Date,
		"Subject: " + e.Subject,
		"",
		e.Body,
	}, "\n")
}

func renderItem(label string, selected bool) string {
	if selected {
		return theme.SelectedItemStyle.Render(label)
	}
	return theme.ListItemStyle.Render(label)
}

func (m Model) statusLine() string {
	if m.status == "" {
		return m.helpView.Short()
	}
	if m.statusErr {
		return theme.ErrorStyle.Render(m.status)
	}
	return m.status
}
