package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/waabox/agentdeck/internal/auth"
)

// Authenticator is the part of auth.Flow the login prompt drives.
type Authenticator interface {
	RequestDeviceCode(ctx context.Context) (auth.Presentation, error)
	Wait(ctx context.Context) error
	Cancel()
}

// DeviceCodeMsg carries the result of a device code request.
type DeviceCodeMsg struct {
	Login auth.Presentation
	Err   error
}

// LoginCompleteMsg signals that the polling loop reached a terminal state.
type LoginCompleteMsg struct {
	Err error
}

// loginState indicates what the prompt is currently showing.
type loginState int

const (
	stateRequesting loginState = iota
	stateWaiting
	stateDone
	stateFailed
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2)
	titleStyle = lipgloss.NewStyle().Bold(true)
	codeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

// LoginModel is the Bubbletea model for the device login prompt.
type LoginModel struct {
	ctx   context.Context
	auth  Authenticator
	state loginState
	login auth.Presentation
	err   error
	width int
}

// NewLoginModel creates a prompt that requests a new device code on start.
func NewLoginModel(ctx context.Context, a Authenticator) LoginModel {
	return LoginModel{ctx: ctx, auth: a, state: stateRequesting}
}

// NewWaitingLoginModel creates a prompt for a login that was already started,
// for example by an API call that required one.
func NewWaitingLoginModel(ctx context.Context, a Authenticator, login auth.Presentation) LoginModel {
	return LoginModel{ctx: ctx, auth: a, state: stateWaiting, login: login}
}

// Err returns the outcome of the login: nil after success, otherwise the
// terminal error or auth.ErrLoginCancelled.
func (m LoginModel) Err() error {
	if m.state == stateDone {
		return nil
	}
	if m.err == nil {
		return auth.ErrLoginCancelled
	}
	return m.err
}

// Init requests a device code, or starts waiting when one was given.
func (m LoginModel) Init() tea.Cmd {
	if m.state == stateWaiting {
		return m.waitForLogin()
	}
	return m.requestDeviceCode()
}

func (m LoginModel) requestDeviceCode() tea.Cmd {
	return func() tea.Msg {
		p, err := m.auth.RequestDeviceCode(m.ctx)
		return DeviceCodeMsg{Login: p, Err: err}
	}
}

func (m LoginModel) waitForLogin() tea.Cmd {
	return func() tea.Msg {
		return LoginCompleteMsg{Err: m.auth.Wait(m.ctx)}
	}
}

// Update handles all incoming messages and key events.
func (m LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case DeviceCodeMsg:
		if m.state != stateRequesting {
			return m, nil
		}
		if msg.Err != nil {
			m.state = stateFailed
			m.err = msg.Err
			return m, nil
		}
		m.login = msg.Login
		m.state = stateWaiting
		return m, m.waitForLogin()

	case LoginCompleteMsg:
		if m.state != stateWaiting {
			return m, nil
		}
		if msg.Err != nil {
			m.state = stateFailed
			m.err = msg.Err
			if errors.Is(msg.Err, auth.ErrLoginCancelled) {
				return m, tea.Quit
			}
			return m, nil
		}
		m.state = stateDone
		m.err = nil
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "q", "ctrl+c":
			if m.state == stateRequesting || m.state == stateWaiting {
				m.auth.Cancel()
				m.state = stateFailed
				m.err = auth.ErrLoginCancelled
				return m, tea.Quit
			}
			return m, tea.Quit
		case "r":
			if m.state == stateFailed {
				m.state = stateRequesting
				m.err = nil
				m.login = auth.Presentation{}
				return m, m.requestDeviceCode()
			}
		}
	}
	return m, nil
}

// View renders the prompt.
func (m LoginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("agentdeck login"))
	b.WriteString("\n\n")

	switch m.state {
	case stateRequesting:
		b.WriteString("Requesting a device code...\n")
	case stateWaiting:
		uri := m.login.VerificationURIComplete
		if uri == "" {
			uri = m.login.VerificationURI
		}
		fmt.Fprintf(&b, "Open:  %s\n", uri)
		fmt.Fprintf(&b, "Code:  %s\n\n", codeStyle.Render(m.login.UserCode))
		if m.login.ExpiresIn > 0 {
			fmt.Fprintf(&b, "The code expires in %s.\n", expiresIn(m.login.ExpiresIn))
		}
		b.WriteString("Waiting for authorization...\n\n")
		b.WriteString(hintStyle.Render("esc: cancel"))
	case stateDone:
		b.WriteString("Logged in.\n")
	case stateFailed:
		b.WriteString(errStyle.Render(failureMessage(m.err)))
		b.WriteString("\n\n")
		b.WriteString(hintStyle.Render("r: retry   q: quit"))
	}

	style := boxStyle
	if m.width > 4 {
		style = style.MaxWidth(m.width)
	}
	return style.Render(b.String()) + "\n"
}

func failureMessage(err error) string {
	var timeoutErr *auth.TimeoutError
	var authErr *auth.AuthorizationError
	switch {
	case err == nil:
		return "Login failed."
	case errors.Is(err, auth.ErrLoginCancelled):
		return "Login cancelled."
	case errors.As(err, &timeoutErr):
		return "The code expired before it was approved."
	case errors.As(err, &authErr):
		if authErr.Description != "" {
			return "Authorization denied: " + authErr.Description
		}
		return "Authorization denied (" + authErr.Code + ")."
	}
	return fmt.Sprintf("Login failed: %v", err)
}

func expiresIn(seconds int) string {
	if seconds < 120 {
		return fmt.Sprintf("%d seconds", seconds)
	}
	return fmt.Sprintf("%d minutes", seconds/60)
}

// RunLogin shows the login prompt until the login succeeds, fails or is
// cancelled. When login is non-nil the prompt waits on that already started
// login instead of requesting a new code.
func RunLogin(ctx context.Context, a Authenticator, login *auth.Presentation) error {
	m := NewLoginModel(ctx, a)
	if login != nil {
		m = NewWaitingLoginModel(ctx, a, *login)
	}
	final, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		a.Cancel()
		return fmt.Errorf("running login prompt: %w", err)
	}
	return final.(LoginModel).Err()
}
