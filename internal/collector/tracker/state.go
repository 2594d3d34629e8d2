package tracker

import (
	"context"
	"fmt"
	"sort"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/repositories/metadata"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
)

// Entry is one persisted mapping row.
type Entry struct {
	Task    transport.TaskID
	Kind    models.Kind
	LocalID int64
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Task < es[j].Task })
}

// Keys of the three positionally aligned sequences of a session.
func TaskKey(sessionID string) string       { return sessionID + "-task" }
func UploadableKey(sessionID string) string { return sessionID + "-uploadable" }
func KindKey(sessionID string) string       { return sessionID + "-kind" }

func save(ctx context.Context, repo metadata.Repository, sessionID string, entries []Entry) error {
	if len(entries) == 0 {
		return discard(ctx, repo, sessionID)
	}

	tasks := make([]int64, len(entries))
	ids := make([]int64, len(entries))
	kinds := make([]string, len(entries))
	for i, e := range entries {
		tasks[i] = int64(e.Task)
		ids[i] = e.LocalID
		kinds[i] = string(e.Kind)
	}

	// one write, so a crash never leaves the sequences misaligned
	return metadata.UpdateJSON(ctx, repo, map[string]any{
		TaskKey(sessionID):       tasks,
		UploadableKey(sessionID): ids,
		KindKey(sessionID):       kinds,
	})
}

// load reads the sequences back. A missing kind sequence means every entry
// is a video, the only background kind before kinds were recorded.
func load(ctx context.Context, repo metadata.Repository, sessionID string) ([]Entry, error) {
	var tasks, ids []int64
	var kinds []string

	okTasks, err := metadata.GetJSON(ctx, repo, TaskKey(sessionID), &tasks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	okIDs, err := metadata.GetJSON(ctx, repo, UploadableKey(sessionID), &ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	okKinds, err := metadata.GetJSON(ctx, repo, KindKey(sessionID), &kinds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	if !okTasks && !okIDs {
		if okKinds {
			return nil, fmt.Errorf("%w: kinds without tasks", ErrCorruptState)
		}
		return nil, nil
	}
	if len(tasks) != len(ids) {
		return nil, fmt.Errorf("%w: %d tasks, %d records", ErrCorruptState, len(tasks), len(ids))
	}
	if okKinds && len(kinds) != len(tasks) {
		return nil, fmt.Errorf("%w: %d tasks, %d kinds", ErrCorruptState, len(tasks), len(kinds))
	}

	entries := make([]Entry, len(tasks))
	for i := range tasks {
		kind := models.KindVideo
		if okKinds {
			kind = models.Kind(kinds[i])
		}
		entries[i] = Entry{Task: transport.TaskID(tasks[i]), Kind: kind, LocalID: ids[i]}
	}
	return entries, nil
}

func discard(ctx context.Context, repo metadata.Repository, sessionID string) error {
	return repo.Update(ctx, nil, []string{TaskKey(sessionID), UploadableKey(sessionID), KindKey(sessionID)})
}
