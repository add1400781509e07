// Package tui is the terminal rater client. It drives a session.Controller
// against a lexeval server.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	appI18n "github.com/pavelanni/lexeval/internal/i18n"
	"github.com/pavelanni/lexeval/internal/model"
	"github.com/pavelanni/lexeval/internal/session"
)

// API is the part of the HTTP client the rater screens use.
type API interface {
	ListQuestions(ctx context.Context) ([]model.Question, error)
	CreateResponse(ctx context.Context, in model.ResponseInput) (model.Response, error)
}

type questionsLoadedMsg struct {
	questions []model.Question
	err       error
}

type submittedMsg struct {
	resp model.Response
	err  error
}

// Model is the bubbletea model for the rater client.
type Model struct {
	ctx    context.Context
	api    API
	flow   *session.Controller
	styles Styles

	userInput    textinput.Model
	commentInput textinput.Model
	bar          progress.Model

	presetUser  string
	sessionOpts []session.Option

	loaded     bool
	loading    bool
	submitting bool
	cursor     int
	status     string
	quitting   bool
}

// Option configures a Model.
type Option func(*Model)

// WithUser starts the session for id as soon as the questions are loaded.
// A blank id leaves the identity screen in place.
func WithUser(id string) Option {
	return func(m *Model) {
		if strings.TrimSpace(id) != "" {
			m.presetUser = id
		}
	}
}

// WithSessionOptions passes options to the underlying flow controller.
func WithSessionOptions(opts ...session.Option) Option {
	return func(m *Model) { m.sessionOpts = append(m.sessionOpts, opts...) }
}

// New builds the rater model. ctx carries the localizer and bounds every request.
func New(ctx context.Context, api API, opts ...Option) Model {
	ui := textinput.New()
	ui.Placeholder = appI18n.T(ctx, "UserIDPlaceholder")
	ui.CharLimit = 128
	ui.Width = 40
	ui.Focus()

	ci := textinput.New()
	ci.Placeholder = appI18n.T(ctx, "CommentsPlaceholder")
	ci.CharLimit = 2000
	ci.Width = 60

	m := Model{
		ctx:          ctx,
		api:          api,
		styles:       DefaultStyles(),
		userInput:    ui,
		commentInput: ci,
		bar:          progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		loading:      true,
	}
	for _, o := range opts {
		o(&m)
	}
	m.flow = session.New(nil, m.sessionOpts...)
	return m
}

// Run starts the program in the alternate screen and blocks until the rater quits.
func Run(ctx context.Context, api API, opts ...Option) error {
	p := tea.NewProgram(New(ctx, api, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return m.loadQuestions()
}

func (m Model) loadQuestions() tea.Cmd {
	ctx, api := m.ctx, m.api
	return func() tea.Msg {
		qs, err := api.ListQuestions(ctx)
		return questionsLoadedMsg{questions: qs, err: err}
	}
}

func (m Model) submit(in model.ResponseInput) tea.Cmd {
	ctx, api := m.ctx, m.api
	return func() tea.Msg {
		resp, err := api.CreateResponse(ctx, in)
		return submittedMsg{resp: resp, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-8, 10), 80)
		return m, nil

	case questionsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.status = appI18n.Td(m.ctx, "LoadFailed", map[string]any{"Error": msg.err.Error()})
			return m, nil
		}
		m.loaded = true
		m.flow = session.New(msg.questions, m.sessionOpts...)
		if m.presetUser != "" {
			m.userInput.SetValue(m.presetUser)
			return m.start()
		}
		return m, nil

	case submittedMsg:
		m.submitting = false
		if msg.err != nil {
			m.flow.Fail(msg.err)
			m.status = appI18n.Td(m.ctx, "SubmitFailed", map[string]any{"Error": msg.err.Error()})
			return m, nil
		}
		m.flow.Complete()
		m.status = ""
		m.cursor = 0
		m.commentInput.Reset()
		m.commentInput.Blur()
		return m, nil

	case progress.FrameMsg:
		pm, cmd := m.bar.Update(msg)
		m.bar = pm.(progress.Model)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		switch m.flow.State() {
		case session.StateIdentity:
			return m.updateIdentity(msg)
		case session.StateQuestion:
			return m.updateQuestion(msg)
		case session.StateComplete:
			return m.updateComplete(msg)
		}
	}
	return m, nil
}

func (m Model) updateIdentity(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.quitting = true
		return m, tea.Quit
	case "enter":
		return m.start()
	}
	var cmd tea.Cmd
	m.userInput, cmd = m.userInput.Update(msg)
	return m, cmd
}

func (m Model) start() (tea.Model, tea.Cmd) {
	if strings.TrimSpace(m.userInput.Value()) == "" {
		m.status = appI18n.T(m.ctx, "UserIDRequired")
		return m, nil
	}
	if !m.loaded {
		m.status = appI18n.T(m.ctx, "Loading")
		return m, nil
	}
	switch err := m.flow.Start(m.userInput.Value()); {
	case errors.Is(err, session.ErrNoQuestions):
		m.status = appI18n.T(m.ctx, "NoQuestions")
		return m, nil
	case err != nil:
		m.status = appI18n.T(m.ctx, "UserIDRequired")
		return m, nil
	}
	m.status = ""
	m.cursor = 0
	m.userInput.Blur()
	m.commentInput.Reset()
	return m, nil
}

func (m Model) updateQuestion(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.submitting {
		return m, nil
	}
	if m.commentInput.Focused() {
		switch msg.String() {
		case "tab", "esc":
			m.commentInput.Blur()
			return m, nil
		case "enter":
			return m.trySubmit()
		}
		var cmd tea.Cmd
		m.commentInput, cmd = m.commentInput.Update(msg)
		m.flow.SetComment(m.commentInput.Value())
		return m, cmd
	}

	n := len(m.flow.Display())
	switch key := msg.String(); key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		_ = m.flow.Select(m.cursor)
	case "down", "j":
		if m.cursor < n-1 {
			m.cursor++
		}
		_ = m.flow.Select(m.cursor)
	case " ":
		_ = m.flow.Select(m.cursor)
	case "tab":
		return m, m.commentInput.Focus()
	case "enter":
		return m.trySubmit()
	default:
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
			if i := int(key[0] - '1'); i < n {
				m.cursor = i
				_ = m.flow.Select(i)
			}
		}
	}
	return m, nil
}

func (m Model) trySubmit() (tea.Model, tea.Cmd) {
	in, err := m.flow.Prepare()
	if errors.Is(err, session.ErrNoSelection) {
		m.status = appI18n.T(m.ctx, "SelectionRequired")
		return m, nil
	}
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.submitting = true
	m.status = ""
	return m, m.submit(in)
}

func (m Model) updateComplete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.flow.Reset()
		m.userInput.Reset()
		m.status = ""
		return m, m.userInput.Focus()
	case "esc", "q":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.styles
	var b strings.Builder
	b.WriteString(s.Title.Render(appI18n.T(m.ctx, "AppTitle")))
	b.WriteString("\n")

	switch m.flow.State() {
	case session.StateIdentity:
		m.viewIdentity(&b)
	case session.StateQuestion:
		m.viewQuestion(&b)
	case session.StateComplete:
		b.WriteString(s.Success.Render(appI18n.T(m.ctx, "EvaluationComplete")))
		b.WriteString("\n")
		b.WriteString(appI18n.T(m.ctx, "ThankYou"))
		b.WriteString("\n")
		b.WriteString(s.Help.Render(appI18n.T(m.ctx, "HelpComplete")))
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(s.Error.Render(m.status))
	}
	return s.App.Render(b.String())
}

func (m Model) viewIdentity(b *strings.Builder) {
	s := m.styles
	b.WriteString(s.Label.Render(appI18n.T(m.ctx, "EnterUserID")))
	b.WriteString("\n")
	b.WriteString(m.userInput.View())
	b.WriteString("\n\n")
	switch {
	case m.loading:
		b.WriteString(s.Muted.Render(appI18n.T(m.ctx, "Loading")))
	case m.loaded:
		b.WriteString(s.Muted.Render(appI18n.Tp(m.ctx, "QuestionsAvailable", m.flow.Total())))
	}
	b.WriteString("\n")
	b.WriteString(s.Help.Render(appI18n.T(m.ctx, "HelpIdentity")))
}

func (m Model) viewQuestion(b *strings.Builder) {
	s := m.styles
	q := m.flow.Question()

	b.WriteString(s.Subtitle.Render(appI18n.Td(m.ctx, "QuestionNofM", map[string]any{
		"N":     m.flow.Index() + 1,
		"Total": m.flow.Total(),
	})))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.flow.Progress()))
	b.WriteString("\n\n")

	b.WriteString(s.Label.Render(appI18n.T(m.ctx, "QuestionLabel")))
	b.WriteString("\n")
	b.WriteString(s.Prompt.Render(q.Prompt))
	b.WriteString("\n")
	if q.GroundTruth != "" {
		b.WriteString(s.Label.Render(appI18n.T(m.ctx, "GroundTruthLabel")))
		b.WriteString("\n")
		b.WriteString(s.Truth.Render(q.GroundTruth))
		b.WriteString("\n")
	}

	b.WriteString(s.Label.Render(appI18n.T(m.ctx, "SelectBestAnswer")))
	b.WriteString("\n")
	for i, c := range m.flow.Display() {
		b.WriteString(m.renderAnswer(i, c))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.commentInput.View())
	b.WriteString("\n")
	if m.submitting {
		b.WriteString(s.Muted.Render(appI18n.T(m.ctx, "Submitting")))
		b.WriteString("\n")
	}
	b.WriteString(s.Help.Render(appI18n.T(m.ctx, "HelpQuestion")))
}

// renderAnswer shows display entry i by position only. The source model is
// never shown to the rater.
func (m Model) renderAnswer(i int, c model.Candidate) string {
	s := m.styles
	mark := "( )"
	if i == m.flow.Selected() {
		mark = "(•)"
	}
	pointer := " "
	if i == m.cursor && !m.commentInput.Focused() {
		pointer = s.Cursor.Render(">")
	}
	line := fmt.Sprintf("%s %s %d. %s", pointer, mark, i+1, c.Content)
	if i == m.flow.Selected() {
		return s.SelectedAnswer.Render(line)
	}
	return s.Answer.Render(line)
}
