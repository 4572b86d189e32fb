package types

import (
	"encoding/json"
	"testing"
)

func TestSession_JSON(t *testing.T) {
	session := Session{
		ID:        "session-123",
		ProjectID: "project-456",
		Directory: "/home/user/project",
		Title:     "Test Session",
		Version:   "1.0.0",
		Summary: SessionSummary{
			Additions: 100,
			Deletions: 50,
			Files:     5,
		},
		Time: SessionTime{
			Created: 1700000000000,
			Updated: 1700000001000,
		},
	}

	data, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Session
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ID != session.ID {
		t.Errorf("ID mismatch: got %s, want %s", decoded.ID, session.ID)
	}
	if decoded.Summary.Additions != session.Summary.Additions {
		t.Errorf("Additions mismatch: got %d, want %d", decoded.Summary.Additions, session.Summary.Additions)
	}
}

func TestSession_OptionalParentID(t *testing.T) {
	parentID := "parent-123"
	session := Session{ID: "session-123", ParentID: &parentID}

	data, _ := json.Marshal(session)
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, ok := raw["parentID"]; !ok {
		t.Error("parentID should be present when set")
	}

	session2 := Session{ID: "session-456"}
	data2, _ := json.Marshal(session2)
	var raw2 map[string]any
	json.Unmarshal(data2, &raw2)
	if _, ok := raw2["parentID"]; ok {
		t.Error("parentID should be omitted when nil")
	}
}

func TestMessage_JSON(t *testing.T) {
	msg := Message{
		ID:         "msg-123",
		SessionID:  "session-456",
		Role:       "assistant",
		ModelID:    "claude-3-opus",
		ProviderID: "anthropic",
		Cost:       0.05,
		Tokens: &TokenUsage{
			Input:  1000,
			Output: 500,
			Cache:  CacheUsage{Read: 100, Write: 50},
		},
		Time: MessageTime{Created: 1700000000000},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Role != "assistant" {
		t.Errorf("Role mismatch: got %s, want assistant", decoded.Role)
	}
	if decoded.Tokens.Input != 1000 {
		t.Errorf("Tokens.Input mismatch: got %d, want 1000", decoded.Tokens.Input)
	}
}

func TestMessage_TextAndToolParts(t *testing.T) {
	msg := Message{
		ID:        "msg-1",
		SessionID: "session-1",
		Role:      "assistant",
		Parts: []Part{
			&TextPart{ID: "p1", Text: "Hello "},
			&ToolPart{ID: "p2", ToolCallID: "t1", ToolName: "shell", State: ToolState{Status: "completed"}},
			&TextPart{ID: "p3", Text: "world"},
		},
	}

	if got := msg.Text(); got != "Hello world" {
		t.Errorf("Text() = %q, want %q", got, "Hello world")
	}
	if tp := msg.ToolParts(); len(tp) != 1 || tp[0].ToolName != "shell" {
		t.Errorf("ToolParts() = %+v", tp)
	}
}

func TestMessage_AgentOnlyVisibility(t *testing.T) {
	msg := Message{
		ID:           "msg-1",
		SessionID:    "session-1",
		Role:         "user",
		UserVisible:  false,
		AgentVisible: true,
		AgentOnly:    true,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.UserVisible {
		t.Error("UserVisible should be false for an agent-only message")
	}
	if !decoded.AgentOnly {
		t.Error("AgentOnly should round-trip true")
	}
}

func TestFileDiff_JSON(t *testing.T) {
	diff := FileDiff{
		Path:      "/src/main.go",
		Additions: 10,
		Deletions: 5,
		Before:    "func old() {}",
		After:     "func new() {}",
	}

	data, err := json.Marshal(diff)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded FileDiff
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Path != diff.Path {
		t.Errorf("Path mismatch: got %s, want %s", decoded.Path, diff.Path)
	}
}

func TestSessionSummary_EmptyDiffs(t *testing.T) {
	summary := SessionSummary{}
	data, _ := json.Marshal(summary)
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, ok := raw["diffs"]; ok {
		t.Error("diffs should be omitted when nil")
	}
}

func TestCustomPrompt_JSON(t *testing.T) {
	loadedAt := int64(1700000000000)
	prompt := CustomPrompt{
		Type:      "file",
		Value:     "/path/to/prompt.md",
		LoadedAt:  &loadedAt,
		Variables: map[string]string{"project": "myapp", "version": "1.0.0"},
	}

	data, err := json.Marshal(prompt)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded CustomPrompt
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Type != "file" {
		t.Errorf("Type mismatch: got %s, want file", decoded.Type)
	}
	if decoded.Variables["project"] != "myapp" {
		t.Error("Variables[project] mismatch")
	}
}

func TestMessageError_JSON(t *testing.T) {
	msgErr := MessageError{Type: "api", Message: "Rate limit exceeded"}

	data, err := json.Marshal(msgErr)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded MessageError
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Type != "api" {
		t.Errorf("Type mismatch: got %s, want api", decoded.Type)
	}
}

func TestMessage_IsSummaryField(t *testing.T) {
	parentID := "msg-user-1"
	msg := Message{
		ID:         "msg-assistant-1",
		SessionID:  "session-1",
		ParentID:   &parentID,
		Role:       "assistant",
		ModelID:    "claude-3-opus",
		ProviderID: "anthropic",
		IsSummary:  true,
		Cost:       0.05,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !decoded.IsSummary {
		t.Error("IsSummary not properly decoded")
	}
	if decoded.ParentID == nil || *decoded.ParentID != parentID {
		t.Error("ParentID not properly decoded")
	}
}

func TestMemoryFact_Key(t *testing.T) {
	a := MemoryFact{Category: CategoryArtifact, Content: "C:\\Users\\u\\Desktop"}
	b := MemoryFact{Category: CategoryArtifact, Content: "c:\\users\\u\\desktop"}
	if a.Key() != b.Key() {
		t.Errorf("expected case-insensitive key match, got %+v vs %+v", a.Key(), b.Key())
	}
}

func TestMemoryMergeReport_TopRejectedReasons(t *testing.T) {
	r := MemoryMergeReport{
		RejectedReasonBreakdown: map[string]int{
			ReasonDuplicate:         5,
			ReasonEmptyContent:      3,
			ReasonSymbolicPath:      3,
			ReasonWeakLabel:         1,
			ReasonTransientDump:     1,
			ReasonArtifactUnhelpful: 1,
		},
	}
	top := r.TopRejectedReasons()
	if len(top) != 5 {
		t.Fatalf("expected top-5, got %d: %v", len(top), top)
	}
	if top[0] != ReasonDuplicate {
		t.Errorf("expected %s first, got %s", ReasonDuplicate, top[0])
	}
}
