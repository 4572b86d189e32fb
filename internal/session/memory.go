package session

import (
	"context"
	"time"

	"github.com/jsjm1986/agime/internal/event"
	"github.com/jsjm1986/agime/internal/memory"
	"github.com/jsjm1986/agime/pkg/types"
)

// refreshMemoryFacts runs the CFPM extraction/merge/prune cycle against the
// session's current fact set using whatever new evidence the latest
// messages carry (§4.5). Runtime drafts come from tool failures, verified
// paths, and goal statements in the conversation itself — not from the
// provider, so this runs before the turn's completion request is built.
func (p *Processor) refreshMemoryFacts(ctx context.Context, sessionID string, messages []*types.Message) {
	drafts := memory.ExtractRuntimeDrafts(messages)
	if len(drafts) == 0 {
		p.memory.PruneCFPMAutoMemoryFacts(ctx, sessionID, "turn_refresh")
		return
	}

	report, err := p.memory.MergeCFPMMemoryFacts(ctx, sessionID, drafts, "turn_refresh")
	if err != nil {
		return
	}

	event.Publish(event.Event{
		Type: event.Compaction,
		Data: event.CompactionData{
			SessionID: sessionID,
			Reason:    "turn_refresh",
			Report:    &report,
		},
	})
}

// injectMemoryContext ensures the message list the provider sees carries an
// up-to-date CFPM fact summary as an agent-only message (§4.5/§6). It
// refreshes the fact set first, then compares the rendered text against the
// most recent injection already in messages: if nothing changed there is
// nothing to do, otherwise a fresh injection message is persisted and
// appended so buildCompletionRequest picks it up like any other turn.
func (p *Processor) injectMemoryContext(ctx context.Context, sessionID string, messages []*types.Message) []*types.Message {
	p.refreshMemoryFacts(ctx, sessionID, messages)

	facts, err := p.memory.ListMemoryFacts(ctx, sessionID)
	if err != nil {
		return messages
	}

	text := memory.BuildInjectionText(facts)
	if text == "" {
		return messages
	}

	if prior, ok := memory.FindMemoryInjectionMessage(messages); ok && prior.Text() == text {
		return messages
	}

	now := time.Now().UnixMilli()
	injectionMsg := &types.Message{
		ID:           generatePartID(),
		SessionID:    sessionID,
		Role:         "system",
		UserVisible:  false,
		AgentVisible: true,
		AgentOnly:    true,
		Time:         types.MessageTime{Created: now},
	}
	if err := p.storage.Put(ctx, []string{"message", sessionID, injectionMsg.ID}, injectionMsg); err != nil {
		return messages
	}

	textPart := &types.TextPart{
		ID:        generatePartID(),
		SessionID: sessionID,
		MessageID: injectionMsg.ID,
		Type:      "text",
		Text:      text,
		Time:      types.PartTime{Start: &now, End: &now},
	}
	if err := p.storage.Put(ctx, []string{"part", injectionMsg.ID, textPart.ID}, textPart); err != nil {
		return messages
	}
	injectionMsg.Parts = []types.Part{textPart}

	return append(messages, injectionMsg)
}
