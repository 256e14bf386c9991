package chat

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"healthnet/pkg/bus"
)

// EventSource is a session that publishes its state changes.
type EventSource interface {
	Session
	Subscribe(ctx context.Context, buffer int) (<-chan bus.Event, func())
}

func RunInteractive(ctx context.Context, session EventSource, info SessionInfo) error {
	events, unsubscribe := session.Subscribe(ctx, 64)
	defer unsubscribe()

	model := newModel(session, events, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithMouseCellMotion())
	_, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

// RunOneShot sends prompt as soon as the session connects and returns the
// first reply.
func RunOneShot(ctx context.Context, session EventSource, info SessionInfo, prompt string) (string, error) {
	events, unsubscribe := session.Subscribe(ctx, 64)
	defer unsubscribe()

	m := newModel(session, events, modeOneShot, prompt, info)
	program := tea.NewProgram(m, tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return "", err
	}

	done, ok := final.(*model)
	if !ok {
		return "", errors.New("unexpected chat model")
	}
	if done.lastErr != "" {
		return "", errors.New(done.lastErr)
	}
	return done.answer, nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("231")).
		Background(lipgloss.Color("23")).
		Padding(1, 2)

	return style.Render("🏥 Thanks for using HealthNetAI")
}
