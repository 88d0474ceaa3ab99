// Package tui is a terminal host for the editing core: a textarea bound
// to a wiki page, its live preview beside it, attachment uploads through a
// file picker and a comment prompt for saving.
package tui

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/conneroisu/sowing/internal/attach"
	"github.com/conneroisu/sowing/internal/document"
	"github.com/conneroisu/sowing/internal/hostpage"
	"github.com/conneroisu/sowing/internal/logging"
	"github.com/conneroisu/sowing/internal/preview"
	"github.com/conneroisu/sowing/internal/session"
)

// Options configure Run.
type Options struct {
	PageURL  string
	BaseURL  string
	Client   *http.Client
	Debounce time.Duration
	Logger   logging.Logger
	// StartDir is where the attachment picker opens; defaults to the
	// working directory.
	StartDir string
}

// Result describes how an editing session ended.
type Result struct {
	Committed bool
	// Target is where the wiki redirected after saving.
	Target string
}

// Run edits the page at opts.PageURL until the user saves or quits.
func Run(ctx context.Context, opts Options) (Result, error) {
	page, err := hostpage.Fetch(ctx, opts.Client, opts.PageURL)
	if err != nil {
		return Result{}, err
	}

	m, err := newModel(ctx, page, opts)
	if err != nil {
		return Result{}, err
	}
	defer m.close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return m.result, err
	}
	return m.result, nil
}

type mode int

const (
	modeEdit mode = iota
	modePick
	modeComment
	modeSaving
)

type (
	previewMsg    string
	uploadDoneMsg struct {
		pending *attach.Pending
		locator string
		err     error
	}
	commitDoneMsg struct {
		target string
		err    error
	}
)

const (
	minPaneWidth  = 20
	chromeHeight  = 6
	maxCursorMove = 1 << 20
)

type model struct {
	ctx  context.Context
	page *hostpage.Page
	sess *session.Session
	buf  *document.Buffer

	editor   textarea.Model
	comment  textinput.Model
	viewport viewport.Model
	picker   filepicker.Model

	mode        mode
	pending     *attach.Pending
	previews    chan string
	previewHTML string
	base        string
	summary     string
	status      string
	alert       string
	result      Result
	width       int
	height      int

	unsubscribe func()
}

func newModel(ctx context.Context, page *hostpage.Page, opts Options) (*model, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	ta := textarea.New()
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.ShowLineNumbers = false
	ta.Placeholder = "Start writing…"
	ta.SetValue(page.Content)
	ta.Focus()

	ci := textinput.New()
	ci.Placeholder = "Describe your change"
	ci.CharLimit = 200

	fp := filepicker.New()
	fp.CurrentDirectory = opts.StartDir
	if fp.CurrentDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			fp.CurrentDirectory = wd
		}
	}

	m := &model{
		ctx:      ctx,
		page:     page,
		buf:      document.NewBuffer(page.Content),
		editor:   ta,
		comment:  ci,
		viewport: viewport.New(40, 20),
		picker:   fp,
		previews: make(chan string, 1),
		base:     page.Content,
		summary:  formatSummary(0, 0),
	}

	sess, err := session.New(page, m.buf, preview.SurfaceFunc(m.relayPreview), session.Options{
		BaseURL:  opts.BaseURL,
		Client:   opts.Client,
		Debounce: opts.Debounce,
		Logger:   opts.Logger,
		Alerter:  m,
	})
	if err != nil {
		return nil, err
	}
	m.sess = sess
	m.unsubscribe = m.buf.OnChange(sess.Changed)
	return m, nil
}

// relayPreview runs on pipeline goroutines. Only the newest markup is kept
// for the UI loop to pick up.
func (m *model) relayPreview(html string) {
	select {
	case <-m.previews:
	default:
	}
	select {
	case m.previews <- html:
	default:
	}
}

func (m *model) waitForPreview() tea.Cmd {
	ch := m.previews
	return func() tea.Msg {
		html, ok := <-ch
		if !ok {
			return nil
		}
		return previewMsg(html)
	}
}

// Alert is called from Update, through Pending.Fail.
func (m *model) Alert(message string) {
	m.alert = message
}

func (m *model) close() {
	m.unsubscribe()
	m.sess.Close()
	close(m.previews)
}

func (m *model) Init() tea.Cmd {
	m.sess.Start()
	return tea.Batch(textarea.Blink, m.waitForPreview())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		if m.mode == modePick {
			var cmd tea.Cmd
			m.picker, cmd = m.picker.Update(msg)
			return m, cmd
		}
		return m, nil

	case previewMsg:
		m.previewHTML = string(msg)
		m.renderPreview()
		return m, m.waitForPreview()

	case uploadDoneMsg:
		m.finishUpload(msg)
		return m, nil

	case commitDoneMsg:
		if msg.err != nil {
			m.alert = "Save failed: " + msg.err.Error()
			m.mode = modeEdit
			m.editor.Focus()
			return m, nil
		}
		m.result = Result{Committed: true, Target: msg.target}
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	// The picker reads directories through its own messages.
	if m.mode == modePick {
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.mode {
	case modePick:
		if msg.Type == tea.KeyEsc {
			m.pending.Cancel()
			m.pending = nil
			m.mode = modeEdit
			m.status = "upload cancelled"
			return m, nil
		}
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		if ok, path := m.picker.DidSelectFile(msg); ok {
			return m, tea.Batch(cmd, m.upload(path))
		}
		return m, cmd

	case modeComment:
		switch msg.Type {
		case tea.KeyEsc:
			m.mode = modeEdit
			m.comment.Blur()
			m.editor.Focus()
			return m, nil
		case tea.KeyEnter:
			return m, m.commit(m.comment.Value())
		}
		var cmd tea.Cmd
		m.comment, cmd = m.comment.Update(msg)
		return m, cmd

	case modeSaving:
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlS:
		m.mode = modeComment
		m.editor.Blur()
		return m, m.comment.Focus()
	case tea.KeyCtrlO:
		p, err := m.sess.Uploads.Begin()
		if err != nil {
			m.alert = "An upload is already in progress."
			return m, nil
		}
		m.pending = p
		m.mode = modePick
		m.alert = ""
		return m, m.picker.Init()
	case tea.KeyCtrlR:
		m.sess.Pipeline.Refresh(m.buf.Text())
		return m, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	m.alert = ""
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	m.syncBuffer()
	return m, cmd
}

func (m *model) upload(path string) tea.Cmd {
	p := m.pending
	m.mode = modeEdit
	m.status = "uploading " + path
	ctx := m.ctx
	file := attach.LocalFile(path)
	return func() tea.Msg {
		locator, err := p.Upload(ctx, file)
		return uploadDoneMsg{pending: p, locator: locator, err: err}
	}
}

func (m *model) finishUpload(msg uploadDoneMsg) {
	if msg.pending == m.pending {
		m.pending = nil
	}
	if msg.err != nil {
		m.status = ""
		msg.pending.Fail(msg.err)
		return
	}
	if err := msg.pending.Complete(msg.locator); err != nil {
		m.status = ""
		m.alert = err.Error()
		return
	}
	setEditor(&m.editor, m.buf.Text(), m.buf.Caret())
	m.updateSummary()
	m.status = "attached " + msg.locator
}

func (m *model) commit(comment string) tea.Cmd {
	m.mode = modeSaving
	m.comment.Blur()
	m.status = "saving…"
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg {
		target, err := sess.Commit(ctx, comment)
		return commitDoneMsg{target: target, err: err}
	}
}

// syncBuffer copies the widget state into the buffer the core reads.
func (m *model) syncBuffer() {
	text := m.editor.Value()
	if text != m.buf.Text() {
		m.buf.SetText(text)
		m.updateSummary()
	}
	m.buf.SetCaret(editorCaret(m.editor))
}

func (m *model) updateSummary() {
	m.summary = formatSummary(changeSummary(m.base, m.buf.Text()))
}

func (m *model) resize(width, height int) {
	m.width, m.height = width, height
	pane := width/2 - 4
	if pane < minPaneWidth {
		pane = minPaneWidth
	}
	body := height - chromeHeight
	if body < 3 {
		body = 3
	}
	m.editor.SetWidth(pane)
	m.editor.SetHeight(body)
	m.viewport.Width = pane
	m.viewport.Height = body
	m.renderPreview()
}

func (m *model) renderPreview() {
	m.viewport.SetContent(htmlToText(m.previewHTML, m.viewport.Width))
}

func (m *model) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("sowing"), " ",
		statusStyle.Render(m.page.ActionURL()+"  "+m.summary))

	editorPane := paneStyle
	if m.mode == modeEdit {
		editorPane = focusedPaneStyle
	}
	right := paneStyle.Render(m.viewport.View())
	if m.mode == modePick {
		right = focusedPaneStyle.Render("Attach a file (esc to cancel)\n\n" + m.picker.View())
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, editorPane.Render(m.editor.View()), right)

	var footer string
	switch m.mode {
	case modeComment:
		footer = "Comment: " + m.comment.View() + helpStyle.Render("  enter save · esc back")
	case modeSaving:
		footer = statusStyle.Render(m.status)
	default:
		footer = helpStyle.Render("ctrl+s save · ctrl+o attach · ctrl+r refresh · pgup/pgdn scroll preview · ctrl+c quit")
		if m.status != "" {
			footer = statusStyle.Render(m.status) + "  " + footer
		}
	}

	parts := []string{header, body, footer}
	if m.alert != "" {
		parts = append(parts, errorStyle.Render(m.alert))
	}
	return strings.Join(parts, "\n")
}

// editorCaret converts the textarea's row and column into a rune offset.
func editorCaret(ta textarea.Model) int {
	lines := strings.Split(ta.Value(), "\n")
	row := ta.Line()
	offset := 0
	for i := 0; i < row && i < len(lines); i++ {
		offset += utf8.RuneCountInString(lines[i]) + 1
	}
	li := ta.LineInfo()
	return offset + li.StartColumn + li.ColumnOffset
}

// setEditor replaces the textarea content and puts the cursor at the rune
// offset caret.
func setEditor(ta *textarea.Model, text string, caret int) {
	ta.SetValue(text)

	caret = document.Clamp(text, caret)
	before := string([]rune(text)[:caret])
	row := strings.Count(before, "\n")
	col := utf8.RuneCountInString(before[strings.LastIndex(before, "\n")+1:])

	for i := 0; ta.Line() > row && i < maxCursorMove; i++ {
		ta.CursorUp()
	}
	ta.SetCursor(col)
}
