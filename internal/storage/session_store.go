package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jsjm1986/agime/internal/memory"
	"github.com/jsjm1986/agime/pkg/types"
)

// MemoryStore implements the CFPM memory and task-status-transition slice of
// the Session Store contract (SPEC_FULL.md §4.6) on top of the generic
// Storage KV engine, adding the per-session-ID collections
// memory_facts/memory_candidates/memory_snapshots/memory_edit_log/task —
// namespaces the existing session/message/part conventions
// (internal/session.Service) don't touch. Every exported method is atomic
// with respect to the file(s) it writes: a per-session mutex serializes the
// handful of multi-file operations (merge/prune/rename each touch facts +
// snapshot + edit log together), on top of the KV engine's own per-file
// temp-write+rename.
type MemoryStore struct {
	kv *Storage

	mu         sync.Mutex
	sessionMus map[string]*sync.Mutex
}

// NewMemoryStore wraps kv with the CFPM memory + task contract.
func NewMemoryStore(kv *Storage) *MemoryStore {
	return &MemoryStore{kv: kv, sessionMus: make(map[string]*sync.Mutex)}
}

func (s *MemoryStore) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessionMus[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.sessionMus[sessionID] = m
	}
	return m
}

// DeleteSession drops every collection this store keeps for sessionID. The
// caller (internal/session.Service.Delete) is responsible for the
// session/message/part records it owns; this only cascades the collections
// unique to this store.
func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	for _, path := range [][]string{
		{"memory_facts", sessionID},
		{"memory_candidates", sessionID},
		{"memory_snapshots", sessionID},
		{"memory_edit_log", sessionID},
	} {
		if err := s.kv.Delete(ctx, path); err != nil {
			return err
		}
	}

	taskIDs, err := s.kv.List(ctx, []string{"task", sessionID})
	if err != nil {
		return err
	}
	for _, taskID := range taskIDs {
		if err := s.kv.Delete(ctx, []string{"task", sessionID, taskID}); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.sessionMus, sessionID)
	s.mu.Unlock()
	return nil
}

// ---- Memory operations ----

func (s *MemoryStore) listFacts(ctx context.Context, sessionID string) ([]types.MemoryFact, error) {
	var facts []types.MemoryFact
	if err := s.kv.Get(ctx, []string{"memory_facts", sessionID}, &facts); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return facts, nil
}

// ListMemoryFacts returns every memory fact for sessionID.
func (s *MemoryStore) ListMemoryFacts(ctx context.Context, sessionID string) ([]types.MemoryFact, error) {
	return s.listFacts(ctx, sessionID)
}

// ListMemoryCandidates returns the candidate audit trail for sessionID.
func (s *MemoryStore) ListMemoryCandidates(ctx context.Context, sessionID string) ([]types.MemoryCandidate, error) {
	var candidates []types.MemoryCandidate
	if err := s.kv.Get(ctx, []string{"memory_candidates", sessionID}, &candidates); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return candidates, nil
}

// CreateMemoryFact appends a single fact (typically source=user, created
// directly rather than via the CFPM merge pipeline).
func (s *MemoryStore) CreateMemoryFact(ctx context.Context, sessionID string, fact types.MemoryFact) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	facts, err := s.listFacts(ctx, sessionID)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if fact.ID == "" {
		fact.ID = "mem_" + ulid.Make().String()
	}
	fact.SessionID = sessionID
	fact.CreatedAt, fact.UpdatedAt = now, now
	facts = append(facts, fact)
	return s.kv.Put(ctx, []string{"memory_facts", sessionID}, facts)
}

// UpdateMemoryFact applies mutate to the fact with the given ID, under the
// session's lock.
func (s *MemoryStore) UpdateMemoryFact(ctx context.Context, sessionID, factID string, mutate func(*types.MemoryFact)) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	facts, err := s.listFacts(ctx, sessionID)
	if err != nil {
		return err
	}
	found := false
	for i := range facts {
		if facts[i].ID == factID {
			mutate(&facts[i])
			facts[i].UpdatedAt = time.Now().Unix()
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	return s.kv.Put(ctx, []string{"memory_facts", sessionID}, facts)
}

// RenameMemoryPaths supersedes and reinserts facts mentioning fromPath
// under a snapshot, per memory.RenameMemoryPaths.
func (s *MemoryStore) RenameMemoryPaths(ctx context.Context, sessionID, fromPath, toPath string) (memory.RenameResult, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	facts, err := s.listFacts(ctx, sessionID)
	if err != nil {
		return memory.RenameResult{}, err
	}
	renamed, result := memory.RenameMemoryPaths(facts, fromPath, toPath)
	if result.Superseded == 0 && result.Inserted == 0 {
		return result, nil
	}
	if err := s.createSnapshotLocked(ctx, sessionID, "rename_memory_paths", facts); err != nil {
		return memory.RenameResult{}, err
	}
	if err := s.kv.Put(ctx, []string{"memory_facts", sessionID}, renamed); err != nil {
		return memory.RenameResult{}, err
	}
	s.appendEditLogLocked(ctx, sessionID, "", "rename_memory_paths", fmt.Sprintf("%s -> %s (superseded=%d inserted=%d)", fromPath, toPath, result.Superseded, result.Inserted))
	return result, nil
}

// ListMemorySnapshots returns every snapshot recorded for sessionID, newest
// first.
func (s *MemoryStore) ListMemorySnapshots(ctx context.Context, sessionID string) ([]types.MemorySnapshot, error) {
	var snapshots []types.MemorySnapshot
	if err := s.kv.Get(ctx, []string{"memory_snapshots", sessionID}, &snapshots); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sort.SliceStable(snapshots, func(i, j int) bool { return snapshots[i].CreatedAt > snapshots[j].CreatedAt })
	return snapshots, nil
}

// RollbackMemorySnapshot restores the session's fact set to the given
// snapshot, itself snapshotting the pre-rollback state first so a rollback
// is never itself unrecoverable.
func (s *MemoryStore) RollbackMemorySnapshot(ctx context.Context, sessionID string, snapshotID int64) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var snapshots []types.MemorySnapshot
	if err := s.kv.Get(ctx, []string{"memory_snapshots", sessionID}, &snapshots); err != nil {
		return err
	}
	var target *types.MemorySnapshot
	for i := range snapshots {
		if snapshots[i].ID == snapshotID {
			target = &snapshots[i]
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}

	current, err := s.listFacts(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.createSnapshotLocked(ctx, sessionID, "pre_rollback", current); err != nil {
		return err
	}
	if err := s.kv.Put(ctx, []string{"memory_facts", sessionID}, target.Facts); err != nil {
		return err
	}
	s.appendEditLogLocked(ctx, sessionID, "", "rollback_memory_snapshot", fmt.Sprintf("snapshot=%d", snapshotID))
	return nil
}

func (s *MemoryStore) createSnapshotLocked(ctx context.Context, sessionID, reason string, facts []types.MemoryFact) error {
	var snapshots []types.MemorySnapshot
	if err := s.kv.Get(ctx, []string{"memory_snapshots", sessionID}, &snapshots); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	snapshots = append(snapshots, types.MemorySnapshot{
		ID:        time.Now().UnixNano(),
		SessionID: sessionID,
		Reason:    reason,
		FactCount: len(facts),
		Facts:     append([]types.MemoryFact{}, facts...),
		CreatedAt: time.Now().Unix(),
	})
	return s.kv.Put(ctx, []string{"memory_snapshots", sessionID}, snapshots)
}

func (s *MemoryStore) appendEditLogLocked(ctx context.Context, sessionID, factID, reason, after string) {
	var log []types.MemoryEditLogEntry
	_ = s.kv.Get(ctx, []string{"memory_edit_log", sessionID}, &log)
	log = append(log, types.MemoryEditLogEntry{
		ID:        "edit_" + ulid.Make().String(),
		SessionID: sessionID,
		FactID:    factID,
		After:     after,
		Reason:    reason,
		CreatedAt: time.Now().Unix(),
	})
	_ = s.kv.Put(ctx, []string{"memory_edit_log", sessionID}, log)
}

func (s *MemoryStore) appendCandidatesLocked(ctx context.Context, sessionID string, candidates []types.MemoryCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	var existing []types.MemoryCandidate
	if err := s.kv.Get(ctx, []string{"memory_candidates", sessionID}, &existing); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	for i := range candidates {
		candidates[i].SessionID = sessionID
	}
	existing = append(existing, candidates...)
	if len(existing) > types.MaxMemoryCandidates {
		existing = existing[len(existing)-types.MaxMemoryCandidates:]
	}
	return s.kv.Put(ctx, []string{"memory_candidates", sessionID}, existing)
}

// MergeCFPMMemoryFacts runs memory.MergeCFPMFacts against the session's
// current facts, snapshotting first, then persists the merged set and
// appended candidate trail in one locked pass.
func (s *MemoryStore) MergeCFPMMemoryFacts(ctx context.Context, sessionID string, drafts []memory.FactDraft, reason string) (types.MemoryMergeReport, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.listFacts(ctx, sessionID)
	if err != nil {
		return types.MemoryMergeReport{}, err
	}

	merged, candidates, report := memory.MergeCFPMFacts(existing, drafts, reason)

	if report.Mode != "candidate_only" {
		if err := s.createSnapshotLocked(ctx, sessionID, reason, existing); err != nil {
			return types.MemoryMergeReport{}, err
		}
		if err := s.kv.Put(ctx, []string{"memory_facts", sessionID}, merged); err != nil {
			return types.MemoryMergeReport{}, err
		}
	}
	if err := s.appendCandidatesLocked(ctx, sessionID, candidates); err != nil {
		return types.MemoryMergeReport{}, err
	}
	s.appendEditLogLocked(ctx, sessionID, "", "merge_cfpm_auto", fmt.Sprintf(`{"mode":%q,"factCount":%d}`, report.Mode, report.FactCount))
	return report, nil
}

// PruneCFPMAutoMemoryFacts drops cfpm_auto facts that no longer pass the
// current validator, keeping at most types.MaxCFPMAutoFacts.
func (s *MemoryStore) PruneCFPMAutoMemoryFacts(ctx context.Context, sessionID, reason string) (int, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.listFacts(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	pruned, removed := memory.PruneCFPMAutoFacts(existing, reason)
	if removed == 0 {
		return 0, nil
	}
	if err := s.createSnapshotLocked(ctx, sessionID, reason+"_prune_cfpm_auto", existing); err != nil {
		return 0, err
	}
	if err := s.kv.Put(ctx, []string{"memory_facts", sessionID}, pruned); err != nil {
		return 0, err
	}
	s.appendEditLogLocked(ctx, sessionID, "", "prune_cfpm_auto", fmt.Sprintf(`{"removedCount":%d}`, removed))
	return removed, nil
}

// ---- Task status transitions ----

// CreateTask persists a new task; an empty Status is set to TaskApproved.
func (s *MemoryStore) CreateTask(ctx context.Context, task *types.Task) error {
	if task.Status == "" {
		task.Status = types.TaskApproved
	}
	if task.ID == "" {
		task.ID = "task_" + ulid.Make().String()
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().Unix()
	}
	return s.kv.Put(ctx, []string{"task", task.SessionID, task.ID}, task)
}

// ErrIllegalTaskTransition is returned when a requested task status
// transition does not follow the approved->running->completed/failed guard.
var ErrIllegalTaskTransition = errors.New("illegal task status transition")

// TransitionTask applies a status-precondition update: the transition only
// takes effect if the task's current status is one of the statuses
// types.CanTransitionTaskStatus allows into `to`. A precondition failure
// returns ErrIllegalTaskTransition rather than silently overwriting
// terminal/cancelled state, matching the guard pattern this is grounded on.
func (s *MemoryStore) TransitionTask(ctx context.Context, sessionID, taskID string, to types.TaskStatus, taskErr string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var task types.Task
	if err := s.kv.Get(ctx, []string{"task", sessionID, taskID}, &task); err != nil {
		return err
	}

	if !types.CanTransitionTaskStatus(task.Status, to) {
		return fmt.Errorf("%w: task %s status %s -> %s", ErrIllegalTaskTransition, taskID, task.Status, to)
	}

	now := time.Now().Unix()
	task.Status = to
	if taskErr != "" {
		task.Error = taskErr
	}
	switch to {
	case types.TaskRunning:
		task.StartedAt = &now
	case types.TaskComplete, types.TaskFailed:
		task.CompletedAt = &now
	}
	return s.kv.Put(ctx, []string{"task", sessionID, taskID}, &task)
}

// GetTask loads a single task.
func (s *MemoryStore) GetTask(ctx context.Context, sessionID, taskID string) (*types.Task, error) {
	var task types.Task
	if err := s.kv.Get(ctx, []string{"task", sessionID, taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns every task recorded for sessionID.
func (s *MemoryStore) ListTasks(ctx context.Context, sessionID string) ([]*types.Task, error) {
	ids, err := s.kv.List(ctx, []string{"task", sessionID})
	if err != nil {
		return nil, err
	}
	var tasks []*types.Task
	for _, id := range ids {
		task, err := s.GetTask(ctx, sessionID, id)
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt < tasks[j].CreatedAt })
	return tasks, nil
}
