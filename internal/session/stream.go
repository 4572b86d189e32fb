package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/jsjm1986/agime/internal/event"
	"github.com/jsjm1986/agime/internal/provider"
	"github.com/jsjm1986/agime/pkg/types"
)

// processStream processes events from the LLM stream, accumulating
// text/reasoning/tool-call parts onto state and saving each as it settles.
func (p *Processor) processStream(
	ctx context.Context,
	stream *provider.CompletionStream,
	state *sessionState,
	callback ProcessCallback,
) (string, error) {
	var currentTextPart *types.TextPart
	var currentReasoningPart *types.ReasoningPart
	currentToolParts := make(map[string]*types.ToolPart)
	var finishReason string
	var accumulatedContent string
	accumulatedToolInputs := make(map[string]string)
	var lastEventTime time.Time

	for {
		select {
		case <-ctx.Done():
			return "error", ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "error", err
		}

		finishReason = p.processMessageChunk(ctx, msg, state, callback,
			&currentTextPart, &currentReasoningPart, currentToolParts,
			&accumulatedContent, accumulatedToolInputs, &lastEventTime)

		if finishReason != "" {
			break
		}
	}

	// Finalize any open parts.
	if currentTextPart != nil {
		now := time.Now().UnixMilli()
		currentTextPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentTextPart)
		event.Publish(event.Event{
			Type: event.Text,
			Data: event.TextData{
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				PartID:    currentTextPart.ID,
				Text:      currentTextPart.Text,
				Done:      true,
			},
		})
	}

	if currentReasoningPart != nil {
		now := time.Now().UnixMilli()
		currentReasoningPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentReasoningPart)
		event.Publish(event.Event{
			Type: event.Thinking,
			Data: event.ThinkingData{
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				PartID:    currentReasoningPart.ID,
				Done:      true,
			},
		})
	}

	now := time.Now().UnixMilli()
	for id, toolPart := range currentToolParts {
		if accInput, ok := accumulatedToolInputs[id]; ok && toolPart.State.Input == nil {
			var input map[string]any
			if err := json.Unmarshal([]byte(accInput), &input); err == nil {
				toolPart.State.Input = input
			}
		}
		toolPart.State.Status = "running"
		toolPart.State.Time.Start = &now
		p.savePart(ctx, state.message.ID, toolPart)
		event.Publish(event.Event{
			Type: event.ToolCall,
			Data: event.ToolCallData{
				SessionID:  state.message.SessionID,
				MessageID:  state.message.ID,
				ToolCallID: toolPart.ToolCallID,
				ToolName:   toolPart.ToolName,
				Input:      toolPart.State.Input,
			},
		})
	}

	if finishReason == "" {
		if len(currentToolParts) > 0 {
			finishReason = "tool-calls"
		} else {
			finishReason = "stop"
		}
	}

	// Normalize finish reason to a stable vocabulary: some providers report
	// "tool_use" where others report "tool-calls".
	if finishReason == "tool_use" {
		finishReason = "tool-calls"
	}

	callback(state.message, state.parts)
	return finishReason, nil
}

// truncate truncates a string to the specified length.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MinEventInterval is the minimum time between streaming events, so a
// consumer has time to process each event before the next arrives.
const MinEventInterval = 20 * time.Millisecond

// throttledPublish publishes an event with optional throttling to prevent
// event consumers from being flooded with back-to-back deltas.
func throttledPublish(e event.Event, lastEventTime *time.Time) {
	if lastEventTime != nil && !lastEventTime.IsZero() {
		elapsed := time.Since(*lastEventTime)
		if elapsed < MinEventInterval {
			time.Sleep(MinEventInterval - elapsed)
		}
	}
	event.Publish(e)
	if lastEventTime != nil {
		*lastEventTime = time.Now()
	}
}

// processMessageChunk handles a single message chunk from the stream.
func (p *Processor) processMessageChunk(
	ctx context.Context,
	msg *schema.Message,
	state *sessionState,
	callback ProcessCallback,
	currentTextPart **types.TextPart,
	currentReasoningPart **types.ReasoningPart,
	currentToolParts map[string]*types.ToolPart,
	accumulatedContent *string,
	accumulatedToolInputs map[string]string,
	lastEventTime *time.Time,
) string {
	var finishReason string

	// Handle text content.
	if msg.Content != "" {
		if *currentTextPart == nil {
			now := time.Now().UnixMilli()
			*currentTextPart = &types.TextPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "text",
				Text:      msg.Content,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentTextPart)
			*accumulatedContent = msg.Content

			throttledPublish(event.Event{
				Type: event.Text,
				Data: event.TextData{
					SessionID: state.message.SessionID,
					MessageID: state.message.ID,
					PartID:    (*currentTextPart).ID,
					Delta:     msg.Content,
				},
			}, lastEventTime)

			callback(state.message, state.parts)
		} else {
			var delta string
			if strings.HasPrefix(msg.Content, *accumulatedContent) {
				// Accumulated mode: new content starts with all previous content.
				delta = msg.Content[len(*accumulatedContent):]
				(*currentTextPart).Text = msg.Content
				*accumulatedContent = msg.Content
			} else {
				// Delta mode: new content is just the new chunk.
				delta = msg.Content
				*accumulatedContent += msg.Content
				(*currentTextPart).Text = *accumulatedContent
			}

			throttledPublish(event.Event{
				Type: event.Text,
				Data: event.TextData{
					SessionID: state.message.SessionID,
					MessageID: state.message.ID,
					PartID:    (*currentTextPart).ID,
					Delta:     delta,
				},
			}, lastEventTime)

			callback(state.message, state.parts)
		}
	}

	// Handle reasoning content (extended thinking).
	if msg.ReasoningContent != "" {
		if *currentReasoningPart == nil {
			now := time.Now().UnixMilli()
			*currentReasoningPart = &types.ReasoningPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "reasoning",
				Text:      msg.ReasoningContent,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentReasoningPart)
			event.Publish(event.Event{
				Type: event.Thinking,
				Data: event.ThinkingData{
					SessionID: state.message.SessionID,
					MessageID: state.message.ID,
					PartID:    (*currentReasoningPart).ID,
					Delta:     msg.ReasoningContent,
				},
			})
			callback(state.message, state.parts)
		} else {
			(*currentReasoningPart).Text = msg.ReasoningContent
			event.Publish(event.Event{
				Type: event.Thinking,
				Data: event.ThinkingData{
					SessionID: state.message.SessionID,
					MessageID: state.message.ID,
					PartID:    (*currentReasoningPart).ID,
					Delta:     msg.ReasoningContent,
				},
			})
			callback(state.message, state.parts)
		}
	}

	// Handle tool calls. Eino's streaming model tracks tool calls by Index:
	// a start event carries Index/ID/Name, subsequent delta events carry
	// Index and partial Arguments only.
	for _, tc := range msg.ToolCalls {
		var toolIndex int
		if tc.Index != nil {
			toolIndex = *tc.Index
		} else if tc.ID != "" {
			toolIndex = -1 // fall back to ID-based tracking
		} else {
			continue
		}

		var lookupKey string
		if toolIndex >= 0 {
			lookupKey = fmt.Sprintf("idx:%d", toolIndex)
		} else {
			lookupKey = tc.ID
		}

		toolPart, exists := currentToolParts[lookupKey]

		if !exists && tc.ID != "" && tc.Function.Name != "" {
			now := time.Now().UnixMilli()
			toolPart = &types.ToolPart{
				ID:         generatePartID(),
				SessionID:  state.message.SessionID,
				MessageID:  state.message.ID,
				Type:       "tool",
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				State: types.ToolState{
					Status: "pending",
					Input:  make(map[string]any),
					Time:   types.PartTime{Start: &now},
				},
			}
			currentToolParts[lookupKey] = toolPart
			accumulatedToolInputs[lookupKey] = ""
			state.parts = append(state.parts, toolPart)
			callback(state.message, state.parts)
		}

		if tc.Function.Arguments != "" && toolPart != nil {
			accumulatedToolInputs[lookupKey] += tc.Function.Arguments

			var input map[string]any
			if err := json.Unmarshal([]byte(accumulatedToolInputs[lookupKey]), &input); err == nil {
				toolPart.State.Input = input
			}

			event.Publish(event.Event{
				Type: event.ToolCall,
				Data: event.ToolCallData{
					SessionID:  state.message.SessionID,
					MessageID:  state.message.ID,
					ToolCallID: toolPart.ToolCallID,
					ToolName:   toolPart.ToolName,
					Input:      toolPart.State.Input,
				},
			})
			callback(state.message, state.parts)
		}
	}

	// Check for response metadata (token usage, finish reason).
	if msg.ResponseMeta != nil {
		if state.message.Tokens == nil {
			state.message.Tokens = &types.TokenUsage{}
		}
		if msg.ResponseMeta.Usage != nil {
			state.message.Tokens.Input = msg.ResponseMeta.Usage.PromptTokens
			state.message.Tokens.Output = msg.ResponseMeta.Usage.CompletionTokens
		}
		if msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	return finishReason
}
