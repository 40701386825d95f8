package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/washline/washline/internal/api"
	"github.com/washline/washline/internal/bindings"
	"github.com/washline/washline/internal/chat"
	"github.com/washline/washline/internal/config"
	"github.com/washline/washline/internal/logging"
	"github.com/washline/washline/internal/models"
	"github.com/washline/washline/internal/transport"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("39")).Padding(0, 1)
	chipStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	activeChip  = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("33"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("160")).Padding(0, 1)
	selfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
	peerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
)

// Messages pushed into the bubbletea loop by the reactive bindings.
type (
	messagesMsg      []models.Message
	conversationsMsg []models.ConversationPreview
	loadingMsg       bool
	connMsg          transport.State
	shopsMsg         []models.Shop
	openedMsg        struct{}
	refreshedMsg     struct{}
	sentMsg          struct {
		draft models.Draft
		err   error
	}
)

type mode int

const (
	modeList mode = iota
	modeConvo
)

// listItem is one row of the messaging screen: a shop, with its directory
// preview when a conversation exists.
type listItem struct {
	shop    models.Shop
	preview *models.ConversationPreview
}

type model struct {
	msging *bindings.Messaging
	store  *api.Client
	events chan tea.Msg

	mode     mode
	shops    []models.Shop
	previews []models.ConversationPreview
	filter   chat.Filter
	cursor   int

	open     models.Shop
	messages []models.Message
	loading  bool
	conn     transport.State
	alert    string

	input textinput.Model
	vp    viewport.Model

	width  int
	height int
}

func newModel(msging *bindings.Messaging, store *api.Client, events chan tea.Msg) model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 500

	return model{
		msging: msging,
		store:  store,
		events: events,
		filter: chat.FilterAll,
		input:  input,
		vp:     viewport.New(0, 0),
		conn:   transport.StateDisconnected,
	}
}

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.events), m.refreshCmd(), textinput.Blink)
}

// refreshCmd reloads the shop directory and the conversation previews.
func (m model) refreshCmd() tea.Cmd {
	store, msging := m.store, m.msging
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		msging.LoadConversations(ctx)
		shops, err := store.Shops(ctx)
		if err != nil {
			// degrade to the preview list only
			return refreshedMsg{}
		}
		return shopsMsg(shops)
	}
}

func (m model) openCmd(shop models.Shop) tea.Cmd {
	msging := m.msging
	self := msging.Self()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		msging.LoadConversation(ctx, self.ID, shop.Admin().ID, shop.Key())
		return openedMsg{}
	}
}

func (m model) sendCmd(draft models.Draft) tea.Cmd {
	msging := m.msging
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := msging.Send(ctx, draft)
		return sentMsg{draft: draft, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 5
		m.input.Width = msg.Width - 4
		return m, nil

	case messagesMsg:
		m.messages = msg
		m.vp.SetContent(m.renderMessages())
		m.vp.GotoBottom()
		return m, waitEvent(m.events)
	case conversationsMsg:
		m.previews = msg
		return m, waitEvent(m.events)
	case loadingMsg:
		m.loading = bool(msg)
		return m, waitEvent(m.events)
	case connMsg:
		m.conn = transport.State(msg)
		return m, waitEvent(m.events)

	case shopsMsg:
		m.shops = msg
		return m, nil
	case refreshedMsg, openedMsg:
		return m, nil
	case sentMsg:
		if msg.err != nil {
			// restore the draft so the user can retry with enter
			m.alert = "Failed to send - press enter to retry"
			m.input.SetValue(msg.draft.Text)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == modeList {
		switch msg.String() {
		case "ctrl+c", "q":
			m.msging.Close()
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.items())-1 {
				m.cursor++
			}
			return m, nil
		case "tab":
			m.filter = nextFilter(m.filter)
			m.cursor = 0
			return m, nil
		case "r":
			return m, m.refreshCmd()
		case "enter":
			items := m.items()
			if m.cursor >= len(items) {
				return m, nil
			}
			m.open = items[m.cursor].shop
			m.mode = modeConvo
			m.messages = nil
			m.alert = ""
			m.input.Focus()
			return m, m.openCmd(m.open)
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		m.msging.Close()
		return m, tea.Quit
	case "esc":
		self := m.msging.Self()
		m.msging.LeaveConversation(self.ID, m.open.Admin().ID, m.open.Key())
		m.msging.ClearMessages()
		m.mode = modeList
		m.alert = ""
		m.input.Blur()
		m.input.SetValue("")
		return m, m.refreshCmd()
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.SetValue("")
		m.alert = ""
		draft := models.Draft{
			Receiver: m.open.Admin(),
			ShopID:   m.open.Key(),
			Text:     text,
		}
		return m, m.sendCmd(draft)
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// items merges the directory previews with the remaining shops. Under a
// non-All filter only the filtered previews are listed.
func (m model) items() []listItem {
	filtered := chat.ApplyFilter(m.previews, m.filter, time.Now())
	items := make([]listItem, 0, len(filtered)+len(m.shops))
	seen := make(map[int64]bool, len(filtered))
	for i := range filtered {
		p := filtered[i]
		seen[p.Shop.ShopID] = true
		items = append(items, listItem{shop: p.Shop, preview: &p})
	}
	if m.filter != chat.FilterAll {
		return items
	}
	for _, s := range m.shops {
		if !seen[s.ShopID] {
			items = append(items, listItem{shop: s})
		}
	}
	return items
}

func (m model) View() string {
	if m.mode == modeConvo {
		return m.viewConvo()
	}
	return m.viewList()
}

func (m model) viewList() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Messaging") + "\n\n")

	for _, f := range []chat.Filter{chat.FilterAll, chat.FilterRecent, chat.FilterUnread} {
		style := chipStyle
		if f == m.filter {
			style = activeChip
		}
		b.WriteString(style.Render(string(f)) + " ")
	}
	b.WriteString("\n\n")

	items := m.items()
	if len(items) == 0 {
		b.WriteString(dimStyle.Render("No conversations") + "\n")
	}
	for i, it := range items {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		line := it.shop.Name
		if it.preview != nil {
			line += dimStyle.Render("  " + truncate(it.preview.LastMessage, 40) + "  " + stamp(it.preview.LastMessageTime))
		} else {
			line += dimStyle.Render("  No messages yet")
		}
		b.WriteString(prefix + line + "\n")
	}

	b.WriteString("\n" + m.statusLine("enter: open  tab: filter  r: refresh  q: quit"))
	return b.String()
}

func (m model) viewConvo() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.open.Name) + "\n")
	b.WriteString(m.vp.View() + "\n")
	if m.alert != "" {
		b.WriteString(errStyle.Render(m.alert) + "\n")
	}
	b.WriteString(m.input.View() + "\n")
	b.WriteString(m.statusLine("enter: send  esc: back"))
	return b.String()
}

func (m model) renderMessages() string {
	if m.loading {
		return dimStyle.Render("Loading conversation...")
	}
	if len(m.messages) == 0 {
		return dimStyle.Render("No messages")
	}
	self := m.msging.Self()
	var b strings.Builder
	for _, msg := range m.messages {
		name := peerStyle.Render(m.open.Name)
		if msg.SenderID == self.ID && msg.SenderType == self.Role {
			name = selfStyle.Render("You")
		}
		b.WriteString(fmt.Sprintf("%s %s: %s\n", dimStyle.Render(stamp(msg.CreatedAt)), name, msg.Text))
	}
	return b.String()
}

func (m model) statusLine(help string) string {
	conn := dimStyle.Render("[" + m.conn.String() + "]")
	if m.loading {
		conn += dimStyle.Render(" loading...")
	}
	return conn + "  " + dimStyle.Render(help)
}

func nextFilter(f chat.Filter) chat.Filter {
	switch f {
	case chat.FilterAll:
		return chat.FilterRecent
	case chat.FilterRecent:
		return chat.FilterUnread
	default:
		return chat.FilterAll
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func main() {
	cfg := config.Load()

	// The terminal owns stdout; send logs to a file when asked, otherwise
	// drop them.
	logSink := io.Discard
	if path := os.Getenv("WASHLINE_LOG_FILE"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640); err == nil {
			defer f.Close()
			logSink = f
		}
	}
	log := logging.New(logSink, cfg.LogLevel)

	self := models.Identity{ID: cfg.CustomerID, Role: models.RoleCustomer}
	store := api.NewClient(cfg.APIBaseURL)
	manager := transport.NewManager(cfg.SocketURL, log)
	msging := bindings.NewMessaging(self, manager, store, log)
	defer msging.Close()

	// Bridge the reactive bindings into the bubbletea loop.
	events := make(chan tea.Msg, 64)
	push := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}
	msging.Messages.Subscribe(func(v []models.Message) { push(messagesMsg(v)) })
	msging.Conversations.Subscribe(func(v []models.ConversationPreview) { push(conversationsMsg(v)) })
	msging.Loading.Subscribe(func(v bool) { push(loadingMsg(v)) })
	msging.ConnState.Subscribe(func(v transport.State) { push(connMsg(v)) })

	p := tea.NewProgram(newModel(msging, store, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "washline:", err)
		os.Exit(1)
	}
}
