package ui

import (
	"context"

	"github.com/chirpid/chirpid/internal/workflow"
)

// promptRequest is one pending Retry/Cancel question.
type promptRequest struct {
	message string
	reply   chan workflow.Decision
}

// Prompter shows the Retry/Cancel dialog in the session. It implements
// workflow.Prompter; Confirm blocks until the user answers or ctx is done.
type Prompter struct {
	requests chan *promptRequest
}

// NewPrompter returns a Prompter to pass to both workflow.Config and Options.
func NewPrompter() *Prompter {
	return &Prompter{requests: make(chan *promptRequest)}
}

// Confirm implements workflow.Prompter.
func (p *Prompter) Confirm(ctx context.Context, message string) workflow.Decision {
	req := &promptRequest{message: message, reply: make(chan workflow.Decision, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return workflow.DecisionCancel
	}
	select {
	case d := <-req.reply:
		return d
	case <-ctx.Done():
		return workflow.DecisionCancel
	}
}

// Navigator carries workflow navigation events into the session.
type Navigator struct {
	events chan workflow.Navigation
}

// NewNavigator returns a Navigator whose Navigate method is the
// workflow.Config Navigate callback.
func NewNavigator() *Navigator {
	return &Navigator{events: make(chan workflow.Navigation, 4)}
}

// Navigate queues nav without blocking; when the session is not draining
// the oldest pending event is dropped.
func (n *Navigator) Navigate(nav workflow.Navigation) {
	for {
		select {
		case n.events <- nav:
			return
		default:
		}
		select {
		case <-n.events:
		default:
		}
	}
}
