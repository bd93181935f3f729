// Package storage defines the interface for element storage backends.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/elemental-run/elemental/internal/types"
)

// ErrDBNotInitialized is returned when a database-backed feature is used
// before the database has been opened.
var ErrDBNotInitialized = errors.New("database not initialized")

// Filter narrows an element listing. Zero-value fields are not applied,
// except IncludeDeleted/IncludeEphemeral which are false by default
// (deleted and ephemeral elements are excluded unless explicitly asked for).
type Filter struct {
	Type     types.ElementType
	Status   types.TaskStatus
	Assignee string
	Priority int
	TaskType types.TaskType
	Tags     []string

	Limit  int
	Offset int

	IncludeDeleted   bool
	IncludeEphemeral bool
}

// GetOptions modifies the behavior of GetElement.
type GetOptions struct {
	// IncludeDeleted allows a tombstoned element to be returned instead of
	// NOT_FOUND.
	IncludeDeleted bool
	// HydrateContent joins the current content of the Document a Task's
	// DescriptionRef or a Message's ContentRef points at into the returned
	// element's HydratedContent field.
	HydrateContent bool
}

// DependencyCounts summarizes, for one element, how many edges of the
// cycle-checked types point in and out of it.
type DependencyCounts struct {
	ElementID    string
	BlockedBy    int
	Blocks       int
	ParentOf     int
	ChildOf      bool
}

// TreeNode is one node of a dependency tree traversal, annotated with the
// edge type that reached it and its depth from the traversal root.
type TreeNode struct {
	Element  *types.Element
	Type     types.DependencyType
	Depth    int
	ViaCycle bool
}

// DependencyTree is the spec.md §4.4 get_dependency_tree result: the
// upstream (what root depends on) and downstream (what depends on root)
// traversals from one root, plus the summary a caller needs without
// walking either slice.
type DependencyTree struct {
	Root            *types.Element
	Dependencies    []*TreeNode
	Dependents      []*TreeNode
	NodeCount       int
	DependencyDepth int
	DependentDepth  int
}

// BlockedTask is one row of the blocked(filter) query: a blocked task
// together with one representative blocker, chosen deterministically as
// the lexicographically smallest blocking element ID, and the condition
// that made it the representative.
type BlockedTask struct {
	Task *types.Element
	// BlockedBy is the representative blocker's element ID, or "" if the
	// task is blocked solely because of its own status (e.g. manually set
	// to "blocked" or "deferred" with no qualifying edge).
	BlockedBy string
	// BlockReason is one of "blocks", "parent-child", "scheduled", or
	// "status".
	BlockReason string
}

// AgentWorkload is the spec.md §4.6 get_agent_workload(entityId) result:
// the non-terminal tasks currently assigned to one entity, broken down by
// status.
type AgentWorkload struct {
	EntityID     string
	TotalTasks   int
	StatusCounts map[types.TaskStatus]int
}

// Event is one row of the audit trail recorded against an element.
type Event struct {
	ID        int64
	ElementID string
	EventType string
	Actor     string
	OldValue  string
	NewValue  string
	Comment   string
	CreatedAt sql.NullTime
}

// Comment is a free-text note attached to an element.
type Comment struct {
	ID        int64
	ElementID string
	Author    string
	Text      string
	CreatedAt sql.NullTime
}

// Statistics is the store-wide summary returned by Storage.GetStatistics.
type Statistics struct {
	TotalElements  int
	ByType         map[types.ElementType]int
	ByStatus       map[types.TaskStatus]int
	ReadyCount     int
	BlockedCount   int
}

// WorkflowProgress summarizes completion of the tasks belonging to one
// workflow, counting the tasks with a direct parent-child edge to it, per
// spec.md §4.6's get_workflow_progress shape.
type WorkflowProgress struct {
	WorkflowID           string
	TotalTasks           int
	CompletionPercentage int
	ReadyTasks           int
	BlockedTasks         int
	StatusCounts         map[types.TaskStatus]int
}

// BurnResult reports what BurnWorkflow removed.
type BurnResult struct {
	WorkflowID          string
	WasEphemeral        bool
	TasksDeleted        int
	DependenciesDeleted int
}

// GCResult reports what GarbageCollectWorkflows did: every burned workflow
// when dryRun is false, or every candidate ID left untouched when dryRun
// is true.
type GCResult struct {
	Candidates []string
	Burned     []BurnResult
}

// Transaction exposes the subset of Storage operations that run inside a
// single database transaction, for atomic multi-step workflows such as
// Playbook pours.
type Transaction interface {
	CreateElement(ctx context.Context, el *types.Element, actor string) error
	UpdateElement(ctx context.Context, id string, mutate func(*types.Element) error, actor string, expectedUpdatedAt *sql.NullTime) error
	GetElement(ctx context.Context, id string, opts GetOptions) (*types.Element, error)
	DeleteElement(ctx context.Context, id string, actor, reason string, hard bool) error

	AddDependency(ctx context.Context, dep *types.Dependency) error
	RemoveDependency(ctx context.Context, sourceID, targetID string, depType types.DependencyType) error

	AddComment(ctx context.Context, elementID, author, text string) (*Comment, error)

	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	NextChildID(ctx context.Context, parentID string) (string, error)
	ReserveChildIDs(ctx context.Context, parentID string, n int) ([]string, error)
}

// Storage is the full element storage backend surface.
type Storage interface {
	CreateElement(ctx context.Context, el *types.Element, actor string) error
	GetElement(ctx context.Context, id string, opts GetOptions) (*types.Element, error)
	UpdateElement(ctx context.Context, id string, mutate func(*types.Element) error, actor string, expectedUpdatedAt *sql.NullTime) error
	DeleteElement(ctx context.Context, id string, actor, reason string, hard bool) error
	ListElements(ctx context.Context, filter Filter) ([]*types.Element, error)

	AddDependency(ctx context.Context, dep *types.Dependency) error
	RemoveDependency(ctx context.Context, sourceID, targetID string, depType types.DependencyType) error
	GetDependencies(ctx context.Context, elementID string, depType types.DependencyType) ([]*types.Element, error)
	GetDependents(ctx context.Context, elementID string, depType types.DependencyType) ([]*types.Element, error)
	GetDependencyRecords(ctx context.Context, elementID string) ([]*types.Dependency, error)
	GetDependencyTree(ctx context.Context, elementID string, maxDepth int) (*DependencyTree, error)
	WouldCycle(ctx context.Context, sourceID, targetID string, depType types.DependencyType) (bool, error)

	AppendDocumentVersion(ctx context.Context, documentID string, contentType types.ContentType, content string, actor string) (*types.Element, error)
	GetDocumentHistory(ctx context.Context, documentID string) ([]*types.Element, error)
	GetDocumentVersion(ctx context.Context, documentID string, version int) (*types.Element, error)
	RollbackDocument(ctx context.Context, documentID string, version int, actor string) (*types.Element, error)

	GetReadyTasks(ctx context.Context, filter Filter) ([]*types.Element, error)
	GetBlockedTasks(ctx context.Context, filter Filter) ([]*BlockedTask, error)
	GetBacklogTasks(ctx context.Context, filter Filter) ([]*types.Element, error)
	IsBlocked(ctx context.Context, elementID string) (bool, []string, error)
	GetTasksInWorkflow(ctx context.Context, workflowID string, filter Filter) ([]*types.Element, error)
	GetReadyTasksInWorkflow(ctx context.Context, workflowID string, filter Filter) ([]*types.Element, error)
	GetWorkflowProgress(ctx context.Context, workflowID string) (*WorkflowProgress, error)
	GetAgentWorkload(ctx context.Context, entityID string) (*AgentWorkload, error)

	BurnWorkflow(ctx context.Context, workflowID, actor string) (*BurnResult, error)
	GarbageCollectWorkflows(ctx context.Context, maxAge time.Duration, dryRun bool, actor string) (*GCResult, error)

	AddComment(ctx context.Context, elementID, author, text string) (*Comment, error)
	GetComments(ctx context.Context, elementID string) ([]*Comment, error)
	GetEvents(ctx context.Context, elementID string, limit int) ([]*Event, error)

	GetStatistics(ctx context.Context) (*Statistics, error)

	GetDirtyElements(ctx context.Context) ([]string, error)
	ClearDirtyElements(ctx context.Context, ids []string) error

	NextChildID(ctx context.Context, parentID string) (string, error)
	ReserveChildIDs(ctx context.Context, parentID string, n int) ([]string, error)

	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)

	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	IntegrityCheck(ctx context.Context) ([]string, error)
	Optimize(ctx context.Context) error

	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Close() error
	Path() string
	UnderlyingDB() *sql.DB
}

// Config holds database configuration. Only the sqlite backend is
// implemented.
type Config struct {
	Path string

	Prefix string

	BusyTimeoutMS int
	CacheSizeKB   int
}
