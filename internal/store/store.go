// Package store defines the document-store contracts the control plane
// depends on. mongostore is the production implementation, memstore backs
// tests and the in-memory dev mode.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// JobStore reads Job Definitions and persists the fields the progress
// tracker owns.
type JobStore interface {
	// GetJob returns apperr.KindNotFound when the id is unknown.
	GetJob(ctx context.Context, kind types.JobKind, id types.JobID) (*types.JobDefinition, error)
	// ListUnfinished returns tasks whose progress is below 100.
	ListUnfinished(ctx context.Context) ([]*types.JobDefinition, error)
	// ListAssigned returns running, unfinished tasks assigned to node
	// either explicitly or through allNode.
	ListAssigned(ctx context.Context, node string) ([]*types.JobDefinition, error)
	// SaveProgress sets progress and, when endTime is not empty, the end time.
	SaveProgress(ctx context.Context, kind types.JobKind, id types.JobID, progress float64, endTime string) error
	// ResetJob marks a task as running from scratch: progress 0, no end
	// time, status running and createTime as its new creation time.
	ResetJob(ctx context.Context, id types.JobID, createTime string) error
	// SetJobStatus sets the status of a task.
	SetJobStatus(ctx context.Context, id types.JobID, status int) error
}

// ScheduleStore persists Scheduled Entries.
type ScheduleStore interface {
	GetEntry(ctx context.Context, id types.JobID) (*types.ScheduledEntry, error)
	ListEnabled(ctx context.Context) ([]*types.ScheduledEntry, error)
	SaveFiring(ctx context.Context, id types.JobID, lastTime, nextTime string, runner types.RunID) error
	SetEnabled(ctx context.Context, id types.JobID, enabled bool) error
}

// PageMonitorSource lists the URLs under page monitoring.
type PageMonitorSource interface {
	ListMonitoredPages(ctx context.Context) ([]types.PageMonitorTarget, error)
}

// ProjectSource lists project names and ids.
type ProjectSource interface {
	ProjectIDs(ctx context.Context) (map[string]string, error)
}

// DedupSettings is the persisted deduplication configuration.
type DedupSettings struct {
	Hour        int
	Enabled     bool
	Collections map[string]bool
}

// DedupConfigStore reads the deduplication configuration document.
type DedupConfigStore interface {
	GetDedupSettings(ctx context.Context) (*DedupSettings, error)
}

// Field names used by the mark-and-sweep pass.
const (
	FieldID           = "_id"
	FieldProcessToken = "process_flag"
	FieldLatest       = "latest"
)

// CondOp is a pre-filter comparison.
type CondOp int

const (
	OpEq CondOp = iota
	OpNe
)

// Condition is one pre-filter predicate on a (possibly dotted) field.
type Condition struct {
	Field string
	Op    CondOp
	Value any
}

// SortedCopy adds field As holding Source sorted ascending, so element order
// does not affect grouping.
type SortedCopy struct {
	Source string
	As     string
}

// GroupSpec describes how stamped documents are grouped.
type GroupSpec struct {
	Filter    []Condition
	Keys      []string
	Transform []SortedCopy
}

// DedupStore exposes the primitives of one mark-and-sweep pass.
// Passes against the same collection must not overlap.
type DedupStore interface {
	// Stamp sets the process token on every document matching filter.
	Stamp(ctx context.Context, collection string, filter []Condition, token string) (int64, error)
	// LatestIDs returns the greatest _id of every group among stamped documents.
	LatestIDs(ctx context.Context, collection, token string, spec GroupSpec) ([]primitive.ObjectID, error)
	MarkLatest(ctx context.Context, collection string, ids []primitive.ObjectID) (int64, error)
	// Sweep deletes stamped documents not marked latest.
	Sweep(ctx context.Context, collection, token string) (int64, error)
	// ClearMarks removes the token and latest flag from survivors.
	ClearMarks(ctx context.Context, collection, token string) error
}

// Store is everything the control plane needs from the document store.
type Store interface {
	JobStore
	ScheduleStore
	PageMonitorSource
	ProjectSource
	DedupConfigStore
	DedupStore
}
