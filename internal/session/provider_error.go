package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jsjm1986/agime/internal/errs"
	"github.com/jsjm1986/agime/internal/event"
	"github.com/jsjm1986/agime/internal/provider"
	"github.com/jsjm1986/agime/pkg/types"
)

// handleProviderError classifies a provider/stream error (spec.md §4.3, §7)
// and either recovers in place or terminates the turn. A nil return means
// the caller should loop around and retry the same step; any non-nil return
// is terminal and must be returned directly from runLoop.
func (p *Processor) handleProviderError(
	ctx context.Context,
	sessionID string,
	messages *[]*types.Message,
	assistantMsg *types.Message,
	retryBackoff backoff.BackOff,
	cause error,
) error {
	classified := provider.ClassifyError(cause)

	switch classified.Kind {
	case errs.ProviderContextLengthExceeded:
		event.Publish(event.Event{
			Type: event.Status,
			Data: event.StatusData{
				SessionID: sessionID,
				Phase:     "recovery_compaction",
				Detail:    classified.Message,
			},
		})

		if err := p.compactMessages(ctx, sessionID, *messages); err != nil {
			assistantMsg.Error = &types.MessageError{
				Type:    string(errs.CompactionFailed),
				Message: fmt.Sprintf("compaction failed while recovering from oversized context: %v", err),
			}
			p.saveMessage(ctx, sessionID, assistantMsg)
			return errs.Wrap(errs.CompactionFailed, "recovery compaction failed", err)
		}

		reloaded, err := p.loadMessages(ctx, sessionID)
		if err != nil {
			assistantMsg.Error = &types.MessageError{
				Type:    string(errs.SessionStoreError),
				Message: fmt.Sprintf("failed to reload messages after compaction: %v", err),
			}
			p.saveMessage(ctx, sessionID, assistantMsg)
			return errs.Wrap(errs.SessionStoreError, "reload after compaction failed", err)
		}
		*messages = reloaded
		return nil

	case errs.ProviderTransient:
		nextInterval := retryBackoff.NextBackOff()
		if nextInterval == backoff.Stop {
			assistantMsg.Error = &types.MessageError{
				Type:    string(errs.ProviderTransient),
				Message: classified.Error(),
			}
			p.saveMessage(ctx, sessionID, assistantMsg)
			return fmt.Errorf("provider error: max retries exceeded: %w", classified)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(nextInterval):
		}
		return nil

	default: // errs.ProviderFatal and anything unclassified
		assistantMsg.Error = &types.MessageError{
			Type:    string(errs.ProviderFatal),
			Message: classified.Error(),
		}
		p.saveMessage(ctx, sessionID, assistantMsg)
		return classified
	}
}
