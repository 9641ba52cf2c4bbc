package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memory_nodes: knowledge graph nodes",
		SQL: `
CREATE TABLE memory_nodes (
    id               TEXT PRIMARY KEY,
    content          TEXT NOT NULL,
    node_type        TEXT NOT NULL DEFAULT 'normal' CHECK (node_type IN ('normal', 'summary', 'abstract')),
    context          TEXT,

    -- Synthesis provenance: JSON array of node ids, empty for normal nodes
    source_ids       TEXT,

    -- Access tracking (front-end recall only)
    last_accessed_at INTEGER NOT NULL,
    access_count     INTEGER NOT NULL DEFAULT 0,

    -- Cached priority; recomputation from access history is ground truth
    priority         REAL NOT NULL DEFAULT 1.0,

    created_at       INTEGER NOT NULL
);

CREATE INDEX idx_nodes_priority ON memory_nodes(priority DESC);
CREATE INDEX idx_nodes_accessed ON memory_nodes(last_accessed_at DESC);
CREATE INDEX idx_nodes_type     ON memory_nodes(node_type);
`,
	},
	{
		Version:     2,
		Description: "memory_edges: directed, weighted, typed relationships",
		SQL: `
CREATE TABLE memory_edges (
    from_id           TEXT NOT NULL,
    to_id             TEXT NOT NULL,
    weight            REAL NOT NULL CHECK (weight >= 0.0 AND weight <= 1.0),
    relationship_type TEXT NOT NULL CHECK (relationship_type IN ('temporal', 'contextual', 'semantic', 'causal', 'reference')),
    created_by        TEXT NOT NULL CHECK (created_by IN ('dreamer', 'user', 'system')),
    confidence        REAL NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),
    created_at        INTEGER NOT NULL,

    PRIMARY KEY (from_id, to_id, relationship_type),
    FOREIGN KEY (from_id) REFERENCES memory_nodes(id),
    FOREIGN KEY (to_id)   REFERENCES memory_nodes(id)
);

CREATE INDEX idx_edges_weight ON memory_edges(weight DESC);
CREATE INDEX idx_edges_to     ON memory_edges(to_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
