// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// All type declarations consolidated in a single block.
type (
	// SpinOption configures a Spin call.
	SpinOption func(*spinConfig)

	spinConfig struct {
		output   io.Writer
		plain    bool
		plainSet bool
	}

	// spinDoneMsg is sent when the wrapped action finishes.
	spinDoneMsg struct{}

	// spinModel displays a spinner until the done channel closes.
	spinModel struct {
		title   string
		spinner spinner.Model
		done    <-chan struct{}
	}
)

// WithSpinOutput directs spinner output to w instead of stdout.
func WithSpinOutput(w io.Writer) SpinOption {
	return func(cfg *spinConfig) {
		cfg.output = w
	}
}

// WithSpinPlain forces plain line output, skipping the animation. Plain mode
// is the automatic fallback when the output is not a terminal; this option
// overrides the detection in either direction.
func WithSpinPlain(plain bool) SpinOption {
	return func(cfg *spinConfig) {
		cfg.plain = plain
		cfg.plainSet = true
	}
}

// Spin runs fn in a goroutine while animating a spinner next to title,
// returning fn's error once it finishes. Spin never returns before fn does,
// even when rendering fails, so callers can rely on the action being fully
// over; teardown that follows Spin cannot race the action.
//
// The spinner program reads no input and installs no signal handler: Ctrl-C
// keeps reaching the caller's signal handling, which cancels the action's
// context and thereby stops the spinner.
func Spin(title string, fn func() error, opts ...SpinOption) error {
	cfg := spinConfig{output: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.plainSet {
		cfg.plain = !isTerminalWriter(cfg.output)
	}

	done := make(chan struct{})
	var actionErr error
	go func() {
		defer close(done)
		actionErr = fn()
	}()

	if cfg.plain {
		fmt.Fprintf(cfg.output, "%s...\n", title)
		<-done
		return actionErr
	}

	program := tea.NewProgram(
		newSpinModel(title, done),
		tea.WithOutput(cfg.output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	if _, err := program.Run(); err != nil {
		// The action is authoritative; a render failure only costs the
		// animation.
		fmt.Fprintf(cfg.output, "%s...\n", title)
	}

	<-done
	return actionErr
}

// newSpinModel builds the spinner model shown while waiting on doneCh.
func newSpinModel(title string, doneCh <-chan struct{}) spinModel {
	return spinModel{
		title: title,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("63"))),
		),
		done: doneCh,
	}
}

// Init implements tea.Model.
func (m spinModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForSpinDone(m.done),
	)
}

// Update implements tea.Model.
func (m spinModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case spinDoneMsg:
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m spinModel) View() string {
	if m.title == "" {
		return m.spinner.View()
	}
	return m.spinner.View() + " " + m.title
}

// waitForSpinDone blocks until doneCh closes, then reports completion.
func waitForSpinDone(doneCh <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-doneCh
		return spinDoneMsg{}
	}
}
