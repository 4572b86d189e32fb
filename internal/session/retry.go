package session

import (
	"context"
	"strconv"
	"time"

	"github.com/jsjm1986/agime/internal/event"
	"github.com/jsjm1986/agime/internal/retry"
	"github.com/jsjm1986/agime/pkg/types"
)

// applyPortalRetryGuard runs the Portal/Mission Retry Guard (§4.9) after a
// turn that ended with no further tool calls. Returns true when the guard
// fired and a synthetic reminder message was appended, so the caller should
// continue the loop for another round.
func (p *Processor) applyPortalRetryGuard(
	ctx context.Context,
	session *types.Session,
	state *sessionState,
	assistantMsg *types.Message,
	userMsg *types.Message,
	messages []*types.Message,
	callback ProcessCallback,
) (bool, error) {
	cfg := session.RetryConfig
	if cfg == nil {
		return false, nil
	}

	maxRounds := cfg.MaxPortalRetryRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	if state.portalRetryRounds >= maxRounds {
		event.Publish(event.Event{
			Type: event.Status,
			Data: event.StatusData{
				SessionID: session.ID,
				Phase:     "portal_incomplete",
				Detail:    "portal retry rounds exhausted",
			},
		})
		assistantMsg.Error = &types.MessageError{
			Type:    "portal_incomplete",
			Message: `{"reason_code":"missing_execution","rounds_used":` + strconv.Itoa(cfg.RoundsUsed) + `}`,
		}
		p.saveMessage(ctx, session.ID, assistantMsg)
		return false, nil
	}

	parts := make(map[string][]types.Part)
	for _, msg := range messages {
		loaded, err := p.loadParts(ctx, msg.ID)
		if err == nil {
			parts[msg.ID] = loaded
		}
	}
	parts[assistantMsg.ID] = state.parts

	decision := retry.Evaluate(
		ctx,
		cfg,
		session.Directory,
		textOf(parts[userMsg.ID]),
		textOf(state.parts),
		append(append([]*types.Message{}, messages...), assistantMsg),
		parts,
		state.hadToolFailure,
	)

	if !decision.ShouldRetry {
		return false, nil
	}

	state.portalRetryRounds++
	cfg.RoundsUsed++
	session.RetryConfig = cfg
	if err := p.saveSession(session); err != nil {
		return false, err
	}

	event.Publish(event.Event{
		Type: event.Status,
		Data: event.StatusData{
			SessionID: session.ID,
			Phase:     "portal_tool_retry",
			Detail:    decision.ReasonCode,
		},
	})

	if cfg.OnFailureCommand != "" {
		retry.RunOnFailureCommand(ctx, session.Directory, cfg.OnFailureCommand, cfg.TimeoutSeconds)
	}

	now := time.Now().UnixMilli()
	reminder := &types.Message{
		ID:           generatePartID(),
		SessionID:    session.ID,
		Role:         "user",
		UserVisible:  false,
		AgentVisible: true,
		AgentOnly:    true,
		Time:         types.MessageTime{Created: now},
	}
	if err := p.storage.Put(ctx, []string{"message", session.ID, reminder.ID}, reminder); err != nil {
		return false, err
	}

	textPart := &types.TextPart{
		ID:        generatePartID(),
		SessionID: session.ID,
		MessageID: reminder.ID,
		Type:      "text",
		Text:      decision.ReminderText,
		Time:      types.PartTime{Start: &now, End: &now},
	}
	if err := p.storage.Put(ctx, []string{"part", reminder.ID, textPart.ID}, textPart); err != nil {
		return false, err
	}

	callback(state.message, state.parts)
	return true, nil
}

// textOf concatenates every TextPart in parts, in order.
func textOf(parts []types.Part) string {
	var out string
	for _, part := range parts {
		if tp, ok := part.(*types.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
