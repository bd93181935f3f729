// Package types defines the element and dependency data model shared across
// the storage, storage/sqlite and playbook packages.
package types

import (
	"encoding/json"
	"time"
)

// ElementType identifies the tagged variant carried by an Element's payload.
type ElementType string

const (
	TypeTask     ElementType = "task"
	TypeWorkflow ElementType = "workflow"
	TypeDocument ElementType = "document"
	TypeEntity   ElementType = "entity"
	TypeChannel  ElementType = "channel"
	TypeMessage  ElementType = "message"
	TypeTeam     ElementType = "team"
	TypeLibrary  ElementType = "library"
	TypePlaybook ElementType = "playbook"
)

// IsValid reports whether t is one of the nine recognized element types.
func (t ElementType) IsValid() bool {
	switch t {
	case TypeTask, TypeWorkflow, TypeDocument, TypeEntity, TypeChannel, TypeMessage, TypeTeam, TypeLibrary, TypePlaybook:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusOpen       TaskStatus = "open"
	StatusInProgress TaskStatus = "in_progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusDeferred   TaskStatus = "deferred"
	StatusClosed     TaskStatus = "closed"
	StatusTombstone  TaskStatus = "tombstone"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusBacklog, StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred, StatusClosed, StatusTombstone:
		return true
	}
	return false
}

// IsTerminal reports whether the status is one from which a task is
// considered "done" for the purposes of parent-blocking and progress counts.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusTombstone
}

// TaskType is the issue_type axis of a Task, independent of its status.
type TaskType string

const (
	TaskBug     TaskType = "bug"
	TaskFeature TaskType = "feature"
	TaskChore   TaskType = "chore"
	TaskGeneric TaskType = "task"
)

func (t TaskType) IsValid() bool {
	switch t {
	case TaskBug, TaskFeature, TaskChore, TaskGeneric:
		return true
	}
	return false
}

// WorkflowStatus is the lifecycle state of a Workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether a workflow in this status is eligible for
// garbage collection once old enough.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// ContentType is the encoding of a Document's content.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentMarkdown ContentType = "markdown"
	ContentJSON     ContentType = "json"
)

func (c ContentType) IsValid() bool {
	switch c {
	case ContentText, ContentMarkdown, ContentJSON:
		return true
	}
	return false
}

// EntityType classifies an Entity element.
type EntityType string

const (
	EntityAgent  EntityType = "agent"
	EntityHuman  EntityType = "human"
	EntitySystem EntityType = "system"
)

func (e EntityType) IsValid() bool {
	switch e {
	case EntityAgent, EntityHuman, EntitySystem:
		return true
	}
	return false
}

// ChannelVisibility controls channel discoverability (opaque to the core;
// carried through for the network-surface collaborator named in spec.md §1).
type ChannelVisibility string

const (
	VisibilityPublic  ChannelVisibility = "public"
	VisibilityPrivate ChannelVisibility = "private"
)

// StringSet is a set of strings serialized as a JSON array with no
// duplicates and no significant order.
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from a slice, de-duplicating entries.
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, i := range items {
		s[i] = struct{}{}
	}
	return s
}

func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s StringSet) Add(v string)    { s[v] = struct{}{} }
func (s StringSet) Remove(v string) { delete(s, v) }

// Slice returns the set's members in ascending lexicographic order, so
// serialization is deterministic even though set order is not significant.
func (s StringSet) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewStringSet(items...)
	return nil
}

func sortStrings(s []string) {
	// small, allocation-free insertion sort: tag/member sets are tiny in practice
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Metadata is an arbitrary string-keyed JSON value bag attached to an Element.
type Metadata map[string]interface{}

// Element is the common envelope shared by every element type. The
// type-specific payload is carried in one of the pointer fields below; the
// non-nil pointer must match Type.
type Element struct {
	ID        string      `json:"id"`
	Type      ElementType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	CreatedBy string      `json:"createdBy"`
	Tags      StringSet   `json:"tags"`
	Metadata  Metadata    `json:"metadata"`

	Task     *Task     `json:"task,omitempty"`
	Workflow *Workflow `json:"workflow,omitempty"`
	Document *Document `json:"document,omitempty"`
	Entity   *Entity   `json:"entity,omitempty"`
	Channel  *Channel  `json:"channel,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Team     *Team     `json:"team,omitempty"`
	Library  *Library  `json:"library,omitempty"`
	Playbook *Playbook `json:"playbook,omitempty"`

	// HydratedContent is populated by GetElement when GetOptions.HydrateContent
	// is set for a Task or Message; it is never persisted.
	HydratedContent string `json:"hydratedContent,omitempty"`
}

// Task is the payload of a TypeTask element.
type Task struct {
	Title          string     `json:"title"`
	Status         TaskStatus `json:"status"`
	Priority       int        `json:"priority"`
	Complexity     int        `json:"complexity"`
	TaskType       TaskType   `json:"taskType"`
	Assignee       string     `json:"assignee,omitempty"`
	ScheduledFor   *time.Time `json:"scheduledFor,omitempty"`
	CloseReason    string     `json:"closeReason,omitempty"`
	DescriptionRef string     `json:"descriptionRef,omitempty"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
}

// Workflow is the payload of a TypeWorkflow element.
type Workflow struct {
	Title      string                 `json:"title"`
	Status     WorkflowStatus         `json:"status"`
	Ephemeral  bool                   `json:"ephemeral"`
	Variables  map[string]interface{} `json:"variables,omitempty"`
	FinishedAt *time.Time             `json:"finishedAt,omitempty"`
}

// Document is the payload of a TypeDocument element. Only the current
// version's content is carried inline; every version, the current one
// included, is kept in the document_versions table (see
// internal/storage/sqlite/docs.go).
type Document struct {
	ContentType       ContentType `json:"contentType"`
	Content           string      `json:"content"`
	Version           int         `json:"version"`
	PreviousVersionID string      `json:"previousVersionId,omitempty"`
}

// Entity is the payload of a TypeEntity element.
type Entity struct {
	Name       string     `json:"name"`
	EntityType EntityType `json:"entityType"`
	PublicKey  string     `json:"publicKey,omitempty"`
}

// Channel is the payload of a TypeChannel element.
type Channel struct {
	Name       string            `json:"name"`
	Members    StringSet         `json:"members"`
	Visibility ChannelVisibility `json:"visibility"`
}

// Message is the payload of a TypeMessage element. Immutable after create.
type Message struct {
	ChannelID  string `json:"channelId"`
	Sender     string `json:"sender"`
	ContentRef string `json:"contentRef"`
	ThreadID   string `json:"threadId,omitempty"`
}

// Team is the payload of a TypeTeam element.
type Team struct {
	Name    string    `json:"name"`
	Members StringSet `json:"members"`
}

// Library is the payload of a TypeLibrary element.
type Library struct {
	Name           string `json:"name"`
	DescriptionRef string `json:"descriptionRef,omitempty"`
}

// PlaybookStep is one declared step of a Playbook template.
type PlaybookStep struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Condition  string   `json:"condition,omitempty"`
	Priority   int      `json:"priority,omitempty"`
	Complexity int      `json:"complexity,omitempty"`
	Assignee   string   `json:"assignee,omitempty"`
}

// PlaybookVariable declares one substitution variable a Playbook accepts.
type PlaybookVariable struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default,omitempty"`
}

// Playbook is the payload of a TypePlaybook element.
type Playbook struct {
	Name      string             `json:"name"`
	Steps     []PlaybookStep     `json:"steps"`
	Variables []PlaybookVariable `json:"variables,omitempty"`
}

// DependencyType enumerates the typed-edge kinds in the dependency graph.
type DependencyType string

const (
	DepBlocks        DependencyType = "blocks"
	DepParentChild   DependencyType = "parent-child"
	DepRelatesTo     DependencyType = "relates-to"
	DepReferences    DependencyType = "references"
	DepAwaits        DependencyType = "awaits"
	DepValidates     DependencyType = "validates"
	DepAuthoredBy    DependencyType = "authored-by"
	DepAssignedTo    DependencyType = "assigned-to"
)

func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepParentChild, DepRelatesTo, DepReferences, DepAwaits, DepValidates, DepAuthoredBy, DepAssignedTo:
		return true
	}
	return false
}

// IsCycleChecked reports whether edges of this type participate in
// same-type cycle detection (spec.md §4.4 step 4 and §9 Open Questions).
func (d DependencyType) IsCycleChecked() bool {
	return d == DepBlocks || d == DepParentChild
}

// Dependency is a typed directed edge between two elements.
type Dependency struct {
	SourceID  string         `json:"sourceId"`
	TargetID  string         `json:"targetId"`
	Type      DependencyType `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	CreatedBy string         `json:"createdBy"`
	Metadata  Metadata       `json:"metadata,omitempty"`
}
