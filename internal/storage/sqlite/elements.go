package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/events"
	"github.com/elemental-run/elemental/internal/idgen"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

// isUniqueConstraintError reports whether err is a UNIQUE constraint
// violation, which CreateElement reports as an ALREADY_EXISTS error rather than a
// generic storage failure.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// payloadOf extracts the JSON-serializable, type-specific payload from an
// Element's tagged pointer field.
func payloadOf(el *types.Element) (interface{}, error) {
	switch el.Type {
	case types.TypeTask:
		if el.Task == nil {
			return nil, errs.Validation("task element missing task payload")
		}
		return el.Task, nil
	case types.TypeWorkflow:
		if el.Workflow == nil {
			return nil, errs.Validation("workflow element missing workflow payload")
		}
		return el.Workflow, nil
	case types.TypeDocument:
		if el.Document == nil {
			return nil, errs.Validation("document element missing document payload")
		}
		return el.Document, nil
	case types.TypeEntity:
		if el.Entity == nil {
			return nil, errs.Validation("entity element missing entity payload")
		}
		return el.Entity, nil
	case types.TypeChannel:
		if el.Channel == nil {
			return nil, errs.Validation("channel element missing channel payload")
		}
		return el.Channel, nil
	case types.TypeMessage:
		if el.Message == nil {
			return nil, errs.Validation("message element missing message payload")
		}
		return el.Message, nil
	case types.TypeTeam:
		if el.Team == nil {
			return nil, errs.Validation("team element missing team payload")
		}
		return el.Team, nil
	case types.TypeLibrary:
		if el.Library == nil {
			return nil, errs.Validation("library element missing library payload")
		}
		return el.Library, nil
	case types.TypePlaybook:
		if el.Playbook == nil {
			return nil, errs.Validation("playbook element missing playbook payload")
		}
		return el.Playbook, nil
	default:
		return nil, errs.Validationf("unknown element type %q", el.Type)
	}
}

// decodePayload unmarshals raw JSON into the Element field matching typ.
func decodePayload(el *types.Element, typ types.ElementType, raw string) error {
	dec := func(v interface{}) error { return json.Unmarshal([]byte(raw), v) }
	switch typ {
	case types.TypeTask:
		el.Task = &types.Task{}
		return dec(el.Task)
	case types.TypeWorkflow:
		el.Workflow = &types.Workflow{}
		return dec(el.Workflow)
	case types.TypeDocument:
		el.Document = &types.Document{}
		return dec(el.Document)
	case types.TypeEntity:
		el.Entity = &types.Entity{}
		return dec(el.Entity)
	case types.TypeChannel:
		el.Channel = &types.Channel{}
		return dec(el.Channel)
	case types.TypeMessage:
		el.Message = &types.Message{}
		return dec(el.Message)
	case types.TypeTeam:
		el.Team = &types.Team{}
		return dec(el.Team)
	case types.TypeLibrary:
		el.Library = &types.Library{}
		return dec(el.Library)
	case types.TypePlaybook:
		el.Playbook = &types.Playbook{}
		return dec(el.Playbook)
	default:
		return errs.Validationf("unknown element type %q", typ)
	}
}

// promotedColumns extracts the column values that are queried or sorted on
// directly, rather than through the JSON payload: status, priority,
// assignee and ephemeral.
func promotedColumns(el *types.Element) (status string, priority int, assignee string, ephemeral bool, closedAt *time.Time) {
	switch el.Type {
	case types.TypeTask:
		return string(el.Task.Status), el.Task.Priority, el.Task.Assignee, false, el.Task.ClosedAt
	case types.TypeWorkflow:
		return string(el.Workflow.Status), 0, "", el.Workflow.Ephemeral, el.Workflow.FinishedAt
	default:
		return "", 0, "", false, nil
	}
}

func countExisting(ctx context.Context, q queryer) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM elements`).Scan(&n)
	if err != nil {
		return 0, errs.Storage(err, "count elements")
	}
	return n, nil
}

func elementExists(ctx context.Context, q queryer, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM elements WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, errs.Storage(err, "check element existence")
	}
	return n > 0, nil
}

// ensureID generates a content-addressed ID for el if it doesn't already
// have one, scaling the starting candidate length to the current store
// size per the adaptive-length schedule.
func ensureID(ctx context.Context, q queryer, prefix string, el *types.Element, actor string) error {
	if el.ID != "" {
		exists, err := elementExists(ctx, q, el.ID)
		if err != nil {
			return err
		}
		if exists {
			return errs.AlreadyExists(string(el.Type), el.ID)
		}
		return nil
	}

	identifier := identifierFor(el)
	existingCount, err := countExisting(ctx, q)
	if err != nil {
		return err
	}

	gen := idgen.New(prefix, func(candidate string) (bool, error) {
		return elementExists(ctx, q, candidate)
	})
	id, err := gen.Next(identifier, actor, el.CreatedAt, existingCount)
	if err != nil {
		return err
	}
	el.ID = id
	return nil
}

// identifierFor extracts the human-readable string that seeds hash ID
// generation: a title, name, or channel/message reference.
func identifierFor(el *types.Element) string {
	switch el.Type {
	case types.TypeTask:
		return el.Task.Title
	case types.TypeWorkflow:
		return el.Workflow.Title
	case types.TypeEntity:
		return el.Entity.Name
	case types.TypeChannel:
		return el.Channel.Name
	case types.TypeTeam:
		return el.Team.Name
	case types.TypeLibrary:
		return el.Library.Name
	case types.TypePlaybook:
		return el.Playbook.Name
	case types.TypeDocument:
		return el.Document.Content
	case types.TypeMessage:
		return el.Message.ContentRef
	default:
		return string(el.Type)
	}
}

func insertElementRow(ctx context.Context, q queryer, el *types.Element) error {
	payload, err := payloadOf(el)
	if err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return errs.Internal(err, "marshal element payload")
	}
	tagsJSON, err := json.Marshal(el.Tags.Slice())
	if err != nil {
		return errs.Internal(err, "marshal element tags")
	}
	metaJSON, err := json.Marshal(el.Metadata)
	if err != nil {
		return errs.Internal(err, "marshal element metadata")
	}

	status, priority, assignee, ephemeral, closedAt := promotedColumns(el)

	_, err = q.ExecContext(ctx, `
		INSERT INTO elements (
			id, type, payload, tags, metadata, status, priority, assignee,
			ephemeral, created_at, created_by, updated_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		el.ID, string(el.Type), string(payloadJSON), string(tagsJSON), string(metaJSON),
		status, priority, assignee, boolToInt(ephemeral),
		el.CreatedAt, el.CreatedBy, el.UpdatedAt, closedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errs.AlreadyExists(string(el.Type), el.ID)
		}
		return errs.Storage(err, "insert element")
	}

	if err := replaceTags(ctx, q, el.ID, el.Tags.Slice()); err != nil {
		return err
	}
	return markDirty(ctx, q, el.ID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func replaceTags(ctx context.Context, q queryer, elementID string, tags []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM element_tags WHERE element_id = ?`, elementID); err != nil {
		return errs.Storage(err, "clear element tags")
	}
	for _, tag := range tags {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO element_tags (element_id, tag) VALUES (?, ?)`, elementID, tag); err != nil {
			return errs.Storage(err, "insert element tag")
		}
	}
	return nil
}

const elementColumns = `
	id, type, payload, tags, metadata, created_at, created_by, updated_at,
	closed_at, deleted_at, deleted_by, delete_reason
`

func scanElement(row interface{ Scan(...interface{}) error }) (*types.Element, error) {
	var (
		id, typ, payload, tagsJSON, metaJSON, createdBy, deletedBy, deleteReason string
		createdAt, updatedAt                                                     time.Time
		closedAt, deletedAt                                                      sql.NullTime
	)
	if err := row.Scan(&id, &typ, &payload, &tagsJSON, &metaJSON, &createdAt, &createdBy,
		&updatedAt, &closedAt, &deletedAt, &deletedBy, &deleteReason); err != nil {
		return nil, err
	}

	el := &types.Element{
		ID:        id,
		Type:      types.ElementType(typ),
		CreatedAt: createdAt,
		CreatedBy: createdBy,
		UpdatedAt: updatedAt,
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, errs.Internal(err, "unmarshal element tags")
	}
	el.Tags = types.NewStringSet(tags...)

	if err := json.Unmarshal([]byte(metaJSON), &el.Metadata); err != nil {
		return nil, errs.Internal(err, "unmarshal element metadata")
	}

	if err := decodePayload(el, el.Type, payload); err != nil {
		return nil, err
	}

	if el.Type == types.TypeTask && closedAt.Valid {
		t := closedAt.Time
		el.Task.ClosedAt = &t
	}
	if el.Type == types.TypeWorkflow && closedAt.Valid {
		t := closedAt.Time
		el.Workflow.FinishedAt = &t
	}
	return el, nil
}

// getElementRow fetches element id, including tombstoned rows when
// includeDeleted is set.
func getElementRow(ctx context.Context, q queryer, id string, includeDeleted bool) (*types.Element, error) {
	query := `SELECT ` + elementColumns + ` FROM elements WHERE id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	row := q.QueryRowContext(ctx, query, id)
	el, err := scanElement(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("element", id)
	}
	if err != nil {
		return nil, errs.Storage(err, "get element")
	}
	return el, nil
}

// getElement fetches a live (non-deleted) element by ID; internal call
// sites that only need existence/type checks use this directly rather than
// threading GetOptions through validation logic.
func getElement(ctx context.Context, q queryer, id string) (*types.Element, error) {
	return getElementRow(ctx, q, id, false)
}

// CreateElement assigns an ID if needed, validates, and inserts el.
func (s *SQLiteStorage) CreateElement(ctx context.Context, el *types.Element, actor string) error {
	if err := createElement(ctx, s.q(), s.idPrefix(ctx), el, actor); err != nil {
		return err
	}
	s.publish(events.Event{Type: events.ElementCreated, ElementID: el.ID, Actor: actor})
	return nil
}

func (t *connTx) CreateElement(ctx context.Context, el *types.Element, actor string) error {
	return createElement(ctx, t.q(), t.prefix, el, actor)
}

func createElement(ctx context.Context, q queryer, prefix string, el *types.Element, actor string) error {
	if !el.Type.IsValid() {
		return errs.Validationf("invalid element type %q", el.Type)
	}
	if el.Tags == nil {
		el.Tags = types.NewStringSet()
	}
	if el.Metadata == nil {
		el.Metadata = types.Metadata{}
	}
	if el.CreatedAt.IsZero() {
		el.CreatedAt = time.Now().UTC()
	}
	el.UpdatedAt = el.CreatedAt
	el.CreatedBy = actor

	if err := ensureID(ctx, q, prefix, el, actor); err != nil {
		return err
	}
	if err := insertElementRow(ctx, q, el); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO events (element_id, event_type, actor, created_at)
		VALUES (?, 'created', ?, ?)
	`, el.ID, actor, el.CreatedAt); err != nil {
		return errs.Storage(err, "record create event")
	}
	if el.Type == types.TypeDocument {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO document_versions (document_id, version, content_type, content, created_at, created_by)
			VALUES (?, ?, ?, ?, ?, ?)
		`, el.ID, el.Document.Version, string(el.Document.ContentType), el.Document.Content, el.CreatedAt, actor); err != nil {
			return errs.Storage(err, "insert initial document version")
		}
	}
	return nil
}

// GetElement fetches element id, honoring opts.IncludeDeleted and
// opts.HydrateContent (spec.md §4.3's get(id, {hydrate?}) contract).
func (s *SQLiteStorage) GetElement(ctx context.Context, id string, opts storage.GetOptions) (*types.Element, error) {
	return getElementWithOptions(ctx, s.q(), id, opts)
}

func (t *connTx) GetElement(ctx context.Context, id string, opts storage.GetOptions) (*types.Element, error) {
	return getElementWithOptions(ctx, t.q(), id, opts)
}

func getElementWithOptions(ctx context.Context, q queryer, id string, opts storage.GetOptions) (*types.Element, error) {
	el, err := getElementRow(ctx, q, id, opts.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	if opts.HydrateContent {
		if err := hydrateContent(ctx, q, el); err != nil {
			return nil, err
		}
	}
	return el, nil
}
