// Package session provides session management functionality.
package session

import (
	"context"
	"fmt"

	"github.com/jsjm1986/agime/internal/event"
	"github.com/jsjm1986/agime/internal/storage"
	"github.com/jsjm1986/agime/pkg/types"
)

// GetTodos retrieves todos for a session.
func GetTodos(ctx context.Context, store *storage.Storage, sessionID string) ([]types.TodoInfo, error) {
	var todos []types.TodoInfo
	err := store.Get(ctx, []string{"todo", sessionID}, &todos)
	if err == storage.ErrNotFound {
		return []types.TodoInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return todos, nil
}

// UpdateTodos updates todos for a session and publishes an event.
func UpdateTodos(ctx context.Context, store *storage.Storage, sessionID string, todos []types.TodoInfo) error {
	if err := store.Put(ctx, []string{"todo", sessionID}, todos); err != nil {
		return err
	}
	event.Publish(event.Event{
		Type: event.Status,
		Data: event.StatusData{
			SessionID: sessionID,
			Phase:     "todo_updated",
			Detail:    fmt.Sprintf("%d todos", len(todos)),
		},
	})
	return nil
}
