package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/aggregate"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"golang.org/x/sync/errgroup"
)

const statusFanOut = 8

type BatchRollup struct {
	BatchID   string    `json:"batch_id"`
	CreatedAt time.Time `json:"created_at"`
	TotalJobs int       `json:"total_jobs"`
	Counts    Counts    `json:"summary"`
}

// GroupSummary is the cross-batch status view of a group.
type GroupSummary struct {
	GroupID      string        `json:"group_id"`
	Name         *string       `json:"name"`
	CreatedAt    time.Time     `json:"created_at"`
	BatchIDs     []string      `json:"batch_ids"`
	TotalBatches int           `json:"total_batches"`
	TotalJobs    int           `json:"total_jobs"`
	Counts       Counts        `json:"summary"`
	Completed    bool          `json:"completed"`
	Batches      []BatchRollup `json:"batches"`
}

// GroupManager composes existing batches into groups.
type GroupManager struct {
	store     jobs.Store
	lifecycle *jobs.Lifecycle
	batches   *Manager
}

func NewGroupManager(store jobs.Store, lifecycle *jobs.Lifecycle, batches *Manager) *GroupManager {
	return &GroupManager{store: store, lifecycle: lifecycle, batches: batches}
}

// CreateGroup references every given batch. Ids are trimmed and deduplicated
// in first-seen order; any unknown id rejects the whole request.
func (g *GroupManager) CreateGroup(ctx context.Context, batchIDs []string, name *string) (*jobs.Group, error) {
	cleaned := uniqueNonBlank(batchIDs)
	if len(cleaned) == 0 {
		return nil, jobs.NewValidation("at least one valid batch_id is required")
	}

	missing := make([]string, 0)
	for _, id := range cleaned {
		ok, err := g.store.BatchExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, jobs.NewNotFound(fmt.Sprintf("batch_id not found: %v", missing))
	}

	group := &jobs.Group{
		SchemaVersion: jobs.SchemaVersion,
		GroupID:       g.lifecycle.NewID(),
		Name:          name,
		BatchIDs:      cleaned,
		CreatedAt:     g.lifecycle.Now(),
	}
	if err := g.store.PutGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("persist group %s: %w", group.GroupID, err)
	}
	return group, nil
}

// Status sums the status of every referenced batch. The group is completed
// once it has jobs and all of them are done or failed.
func (g *GroupManager) Status(ctx context.Context, groupID string) (*GroupSummary, error) {
	group, err := g.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	summaries := make([]*Summary, len(group.BatchIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(statusFanOut)
	for i, batchID := range group.BatchIDs {
		eg.Go(func() error {
			s, err := g.batches.Status(egCtx, batchID)
			if err != nil {
				return fmt.Errorf("batch %s: %w", batchID, err)
			}
			summaries[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	ret := &GroupSummary{
		GroupID:      group.GroupID,
		Name:         group.Name,
		CreatedAt:    group.CreatedAt,
		BatchIDs:     group.BatchIDs,
		TotalBatches: len(group.BatchIDs),
		Batches:      make([]BatchRollup, 0, len(summaries)),
	}
	for _, s := range summaries {
		ret.TotalJobs += s.TotalJobs
		ret.Counts.merge(s.Counts)
		ret.Batches = append(ret.Batches, BatchRollup{
			BatchID:   s.BatchID,
			CreatedAt: s.CreatedAt,
			TotalJobs: s.TotalJobs,
			Counts:    s.Counts,
		})
	}
	ret.Completed = ret.TotalJobs > 0 && ret.Counts.Terminal() == ret.TotalJobs
	return ret, nil
}

// Scope lists every job of every batch in group order, with entry names
// prefixed by batch id.
func (g *GroupManager) Scope(ctx context.Context, groupID string) (aggregate.Scope, error) {
	group, err := g.store.GetGroup(ctx, groupID)
	if err != nil {
		return aggregate.Scope{}, err
	}
	scope := aggregate.Scope{Grouped: true}
	for _, batchID := range group.BatchIDs {
		bs, err := g.batches.Scope(ctx, batchID)
		if err != nil {
			return aggregate.Scope{}, err
		}
		scope.Entries = append(scope.Entries, bs.Entries...)
	}
	return scope, nil
}

func uniqueNonBlank(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	ret := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ret = append(ret, id)
	}
	return ret
}
