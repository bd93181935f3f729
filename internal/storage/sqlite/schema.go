package sqlite

// schema is applied by Open on every connection and is safe to re-run; the
// migration ladder in migrations.go carries every change made to it after
// the engine's first tagged release.
const schema = `
-- Elements table. Every element type shares this envelope; type-specific
-- fields that are not independently queried live in the payload JSON blob.
-- Fields promoted to real columns (status, priority, assignee, ephemeral)
-- are the ones the readiness views and query layer filter or sort on.
CREATE TABLE IF NOT EXISTS elements (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    tags TEXT NOT NULL DEFAULT '[]',
    metadata TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 2 CHECK(priority >= 0 AND priority <= 4),
    assignee TEXT NOT NULL DEFAULT '',
    ephemeral INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME,
    deleted_at DATETIME,
    deleted_by TEXT NOT NULL DEFAULT '',
    delete_reason TEXT NOT NULL DEFAULT '',
    CHECK (
        (status IN ('closed', 'completed', 'failed', 'cancelled') AND closed_at IS NOT NULL) OR
        (status = 'tombstone') OR
        (status NOT IN ('closed', 'completed', 'failed', 'cancelled', 'tombstone') AND closed_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_elements_type ON elements(type);
CREATE INDEX IF NOT EXISTS idx_elements_status ON elements(status);
CREATE INDEX IF NOT EXISTS idx_elements_priority ON elements(priority);
CREATE INDEX IF NOT EXISTS idx_elements_assignee ON elements(assignee);
CREATE INDEX IF NOT EXISTS idx_elements_created_at ON elements(created_at);

-- Dependencies table. A given (source, target) pair may carry more than one
-- edge type (e.g. both "relates-to" and "references"), so the type is part
-- of the primary key rather than a disambiguating attribute.
CREATE TABLE IF NOT EXISTS dependencies (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'blocks',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (source_id, target_id, type),
    FOREIGN KEY (source_id) REFERENCES elements(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dependencies_source ON dependencies(source_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_target ON dependencies(target_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_target_type ON dependencies(target_id, type);
CREATE INDEX IF NOT EXISTS idx_dependencies_target_type_source ON dependencies(target_id, type, source_id);

-- Tags join table kept alongside the JSON column on elements so tag lookups
-- can use an index instead of scanning and decoding payload JSON.
CREATE TABLE IF NOT EXISTS element_tags (
    element_id TEXT NOT NULL,
    tag TEXT NOT NULL,
    PRIMARY KEY (element_id, tag),
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_element_tags_tag ON element_tags(tag);

-- Document version chain. The elements row for a document always mirrors
-- the latest row here; history and rollback read/append this table.
CREATE TABLE IF NOT EXISTS document_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    content_type TEXT NOT NULL DEFAULT 'text',
    content TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    UNIQUE (document_id, version),
    FOREIGN KEY (document_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_document_versions_doc ON document_versions(document_id);

-- Comments attach free-text discussion to any element, most commonly tasks
-- and workflows.
CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    element_id TEXT NOT NULL,
    author TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_comments_element ON comments(element_id);
CREATE INDEX IF NOT EXISTS idx_comments_created_at ON comments(created_at);

-- Events table (audit trail of create/update/status-change/delete actions).
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    element_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    comment TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_element ON events(element_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

-- Config table (store-level settings such as the id prefix).
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Metadata table (internal bookkeeping, e.g. schema fingerprints).
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Dirty elements table, for external sync consumers (§4.1 "dirty set").
CREATE TABLE IF NOT EXISTS dirty_elements (
    element_id TEXT PRIMARY KEY,
    marked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dirty_elements_marked_at ON dirty_elements(marked_at);

-- Child counters table, for hierarchical ID generation. Tracks the last
-- issued child number per parent element.
CREATE TABLE IF NOT EXISTS child_counters (
    parent_id TEXT PRIMARY KEY,
    last_child INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (parent_id) REFERENCES elements(id) ON DELETE CASCADE
);

-- Ready elements view: a task is NOT ready if (1) it has an incomplete
-- "blocks" predecessor, (2) its immediate parent (via a parent-child edge,
-- source=child, target=parent) is not yet in a terminal/completed state, or
-- (3) its scheduledFor time is still in the future. Each condition looks
-- only at the task's own direct edges; a blocked grandparent does not
-- propagate automatically, it blocks its own direct child first. Status is
-- restricted to open/in_progress; backlog tasks surface only through the
-- separate backlog(filter) query.
CREATE VIEW IF NOT EXISTS ready_tasks AS
SELECT e.*
FROM elements e
WHERE e.type = 'task'
  AND e.status IN ('open', 'in_progress')
  AND e.deleted_at IS NULL
  AND NOT EXISTS (
    SELECT 1 FROM dependencies d
    JOIN elements blocker ON blocker.id = d.target_id
    WHERE d.source_id = e.id AND d.type = 'blocks'
      AND blocker.status NOT IN ('closed', 'tombstone')
  )
  AND NOT EXISTS (
    SELECT 1 FROM dependencies d
    JOIN elements parent ON parent.id = d.target_id
    WHERE d.source_id = e.id AND d.type = 'parent-child'
      AND (
        (parent.type = 'workflow' AND parent.status NOT IN ('completed', 'cancelled'))
        OR (parent.type != 'workflow' AND parent.status NOT IN ('closed', 'tombstone'))
      )
  )
  AND (
    json_extract(e.payload, '$.scheduledFor') IS NULL
    OR json_extract(e.payload, '$.scheduledFor') <= strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
  );

-- Blocked elements view: every non-terminal, non-backlog task that isn't
-- ready, defined as the set complement of ready_tasks rather than
-- re-deriving the three blocking conditions. This keeps
-- "ready ∩ blocked = ∅" and "ready ∪ blocked = {non-terminal, non-backlog
-- tasks}" true by construction instead of by keeping two SQL expressions in
-- sync. GetBlockedTasks resolves the representative blocker/reason in Go.
CREATE VIEW IF NOT EXISTS blocked_tasks AS
SELECT e.*
FROM elements e
WHERE e.type = 'task'
  AND e.deleted_at IS NULL
  AND e.status NOT IN ('closed', 'tombstone', 'backlog')
  AND e.id NOT IN (SELECT id FROM ready_tasks);
`
