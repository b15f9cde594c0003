package main

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/IMBotChat/pkg/botcore"
	"github.com/IMBotPlatform/IMBotChat/pkg/chat"
	"github.com/IMBotPlatform/IMBotChat/pkg/command"
	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

// newChatCmd 启动交互式聊天界面。
func newChatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := chat.NewService(a.store, a.registry, chat.WithLogger(a.logger))
			surface := newChatSurface(svc, a.registry, a.viewer, a.logger)
			base := botcore.Update{ChatID: "terminal", SenderID: currentUser()}
			if flags.model != "" {
				_ = surface.prefs.Save(command.ConversationKey(base), command.ContextValues{chat.MetaModel: flags.model})
			}

			p := tea.NewProgram(newTUIModel(ctx, surface, base),
				tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
			_, err = p.Run()
			return err
		},
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryInfo
	entryError
)

type entry struct {
	kind entryKind
	text string
}

// chunkMsg 携带流水线输出的一个片段；ok=false 表示流已关闭。
type chunkMsg struct {
	chunk botcore.StreamChunk
	ok    bool
}

func waitChunk(ch <-chan botcore.StreamChunk) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		chunk, ok := <-ch
		return chunkMsg{chunk: chunk, ok: ok}
	}
}

type theme struct {
	header     lipgloss.Style
	user       lipgloss.Style
	assistant  lipgloss.Style
	info       lipgloss.Style
	errorText  lipgloss.Style
	inputPanel lipgloss.Style
	footer     lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return theme{
		header:    lipgloss.NewStyle().Foreground(accent).Bold(true).Padding(0, 1),
		user:      lipgloss.NewStyle().Foreground(mint).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(accent).Bold(true),
		info:      lipgloss.NewStyle().Foreground(muted),
		errorText: lipgloss.NewStyle().Foreground(pink).Bold(true),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		footer: lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
	}
}

type tuiModel struct {
	ctx     context.Context
	surface *chatSurface
	base    botcore.Update
	theme   theme

	input   textinput.Model
	view    viewport.Model
	spinner spinner.Model

	entries     []entry
	pending     string
	pendingKind entryKind

	stream <-chan botcore.StreamChunk
	cancel context.CancelFunc
	seq    int

	status        string
	width, height int
	ready         bool
}

func newTUIModel(ctx context.Context, surface *chatSurface, base botcore.Update) tuiModel {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 8000
	input.Placeholder = "Message, or /help for commands"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = true

	return tuiModel{
		ctx:     ctx,
		surface: surface,
		base:    base,
		theme:   newTheme(),
		input:   input,
		view:    vp,
		spinner: sp,
		entries: []entry{{kind: entryInfo, text: "New conversation. /models lists models, /sessions lists saved chats."}},
		status:  "ready",
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-5, 1)
		m.input.Width = max(msg.Width-6, 10)
		m.ready = true
		m.render()
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.cancel != nil {
				m.cancel()
				m.status = "canceling..."
			}
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		cmds = append(cmds, cmd)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case chunkMsg:
		if !msg.ok {
			m.endStream()
			break
		}
		if msg.chunk.IsFinal {
			m.finish(msg.chunk)
		} else {
			m.pending += msg.chunk.Content
		}
		m.render()
		cmds = append(cmds, waitChunk(m.stream))
	}
	return m, tea.Batch(cmds...)
}

// submit 把输入框内容交给流水线；忙碌时拒绝新的输入。
func (m tuiModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.stream != nil {
		m.status = "waiting for the reply (Esc to cancel)"
		return m, nil
	}
	if text == "/quit" || text == "/exit" {
		return m, tea.Quit
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		m.entries = append(m.entries, entry{kind: entryInfo, text: text})
		m.pendingKind = entryInfo
	} else {
		m.entries = append(m.entries, entry{kind: entryUser, text: text})
		m.pendingKind = entryAssistant
	}

	m.seq++
	update := m.base
	update.ID = strconv.Itoa(m.seq)
	update.Text = text

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.stream = m.surface.Trigger(ctx, update)
	m.status = "thinking"
	m.render()
	return m, waitChunk(m.stream)
}

// finish 处理结束片段：落定回复并展示错误。
func (m *tuiModel) finish(chunk botcore.StreamChunk) {
	if _, ok := chunk.Payload.(sessionSwitched); ok {
		m.entries = entriesFromBuffer(m.surface.svc.Sessions().CurrentBuffer())
	}

	text := strings.TrimRight(m.pending+chunk.Content, "\n")
	m.pending = ""
	if text != "" {
		m.entries = append(m.entries, entry{kind: m.pendingKind, text: text})
	}

	m.status = "ready"
	switch err := chunk.Err; {
	case err == nil:
	case errors.Is(err, chat.ErrReplyNotSaved):
		m.entries = append(m.entries, entry{kind: entryError, text: "The reply above could not be saved: " + err.Error()})
		m.status = "reply not saved"
	case errors.Is(err, context.Canceled):
		m.entries = append(m.entries, entry{kind: entryInfo, text: "Canceled."})
	case errors.Is(err, transcript.ErrStoreUnavailable):
		m.entries = append(m.entries, entry{kind: entryError, text: "Message not sent, the transcript store is unavailable: " + err.Error()})
		m.status = "store unavailable"
	case m.pendingKind == entryInfo:
		// 命令错误已写入输出
	default:
		m.entries = append(m.entries, entry{kind: entryError, text: err.Error()})
		m.status = "error"
	}
}

func (m *tuiModel) endStream() {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.stream = nil
}

func entriesFromBuffer(buf []transcript.Message) []entry {
	out := make([]entry, 0, len(buf))
	for _, msg := range buf {
		kind := entryAssistant
		if msg.Role == transcript.RoleHuman {
			kind = entryUser
		}
		out = append(out, entry{kind: kind, text: msg.Content})
	}
	return out
}

func (m *tuiModel) render() {
	if !m.ready {
		return
	}
	wrap := lipgloss.NewStyle().Width(max(m.view.Width-2, 10))
	var b strings.Builder
	write := func(e entry) {
		switch e.kind {
		case entryUser:
			b.WriteString(m.theme.user.Render("You") + "\n" + wrap.Render(e.text))
		case entryAssistant:
			b.WriteString(m.theme.assistant.Render("Assistant") + "\n" + wrap.Render(e.text))
		case entryInfo:
			b.WriteString(m.theme.info.Render(wrap.Render(e.text)))
		case entryError:
			b.WriteString(m.theme.errorText.Render(wrap.Render(e.text)))
		}
		b.WriteString("\n\n")
	}
	for _, e := range m.entries {
		write(e)
	}
	if m.pending != "" {
		write(entry{kind: m.pendingKind, text: m.pending})
	}
	m.view.SetContent(b.String())
	m.view.GotoBottom()
}

func (m tuiModel) View() string {
	if !m.ready {
		return "starting..."
	}
	session := m.surface.svc.Sessions().CurrentSessionID()
	if session == "" {
		session = "new conversation"
	}
	header := m.theme.header.Render(fmt.Sprintf("imbotchat · %s · %s", m.surface.selectedModel(m.base), session))

	status := m.status
	if m.stream != nil {
		status = m.spinner.View() + " " + status
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.view.View(),
		m.theme.inputPanel.Width(max(m.width-2, 10)).Render(m.input.View()),
		m.theme.footer.Render(status+" · Enter send · Esc cancel · Ctrl+C quit"),
	)
}
