package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulsefit/retain/pkg/session"
)

// RunUnattended runs one session to completion with no observer: it forces
// full_auto so nothing can pause for a human, drains the event stream, then
// reloads the final persisted state.
func (e *Engine) RunUnattended(ctx context.Context, params StartParams) (*session.Session, error) {
	params.Mode = session.ModeFullAuto

	sess, events, err := e.Start(ctx, params)
	if err != nil {
		return nil, err
	}

	var lastErr string
	for ev := range events {
		if ev.Type == EventError {
			lastErr = ev.Message
		}
	}

	final, err := e.store.Load(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}

	if lastErr != "" {
		return final, errors.New(lastErr)
	}
	return final, nil
}
