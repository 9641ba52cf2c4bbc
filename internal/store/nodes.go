package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Node types. Summary and abstract nodes are synthesized by the dreamer;
// normal nodes come from front-end store operations.
const (
	TypeNormal   = "normal"
	TypeSummary  = "summary"
	TypeAbstract = "abstract"
)

// Node represents a memory node in the knowledge graph.
type Node struct {
	ID             string
	Content        string
	Type           string // normal, summary, abstract
	Context        map[string]any
	SourceIDs      []string // non-empty only for summary/abstract nodes
	LastAccessedAt int64    // unix millis
	AccessCount    int
	Priority       float64 // cached score; recomputed from access history
	CreatedAt      int64   // unix millis
}

func validNodeType(t string) bool {
	return t == TypeNormal || t == TypeSummary || t == TypeAbstract
}

// InsertNode stores a new node and returns its generated id.
// Summary/abstract nodes must name at least one existing source node;
// normal nodes must name none. Nodes are never removed once inserted.
func (db *DB) InsertNode(content, nodeType string, context map[string]any, sourceIDs []string) (string, error) {
	if content == "" {
		return "", &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if nodeType == "" {
		nodeType = TypeNormal
	}
	if !validNodeType(nodeType) {
		return "", &ValidationError{Field: "node_type", Reason: fmt.Sprintf("unknown type %q", nodeType)}
	}
	if nodeType == TypeNormal && len(sourceIDs) > 0 {
		return "", &ValidationError{Field: "source_ids", Reason: "normal nodes cannot have source ids"}
	}
	if nodeType != TypeNormal {
		if len(sourceIDs) == 0 {
			return "", &ValidationError{Field: "source_ids", Reason: nodeType + " nodes require at least one source id"}
		}
		for _, sid := range sourceIDs {
			exists, err := db.nodeExists(sid)
			if err != nil {
				return "", err
			}
			if !exists {
				return "", &NotFoundError{ID: sid}
			}
		}
	}

	ctxJSON, err := json.Marshal(orEmpty(context))
	if err != nil {
		return "", &ValidationError{Field: "context", Reason: err.Error()}
	}
	srcJSON, err := json.Marshal(orEmptyIDs(sourceIDs))
	if err != nil {
		return "", &ValidationError{Field: "source_ids", Reason: err.Error()}
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()

	_, err = db.Exec(`
		INSERT INTO memory_nodes (id, content, node_type, context, source_ids,
			last_accessed_at, access_count, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 1.0, ?)
	`, id, content, nodeType, string(ctxJSON), string(srcJSON), now, now)
	if err != nil {
		return "", fmt.Errorf("insert node: %w", err)
	}
	return id, nil
}

// GetNode returns a node by id. It does not track access; use Touch for
// front-end recall accounting.
func (db *DB) GetNode(id string) (*Node, error) {
	row := db.QueryRow(`
		SELECT id, content, node_type, context, source_ids,
			last_accessed_at, access_count, priority, created_at
		FROM memory_nodes WHERE id = ?
	`, id)

	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// Touch records a front-end access: increments access_count and sets
// last_accessed_at to now. The single UPDATE is serialized by SQLite,
// so concurrent touches never lose an increment.
func (db *DB) Touch(id string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE memory_nodes
		SET last_accessed_at = ?, access_count = access_count + 1
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch node: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// PersistPriority caches a computed priority score on the node row.
// The cache is advisory: scoring from access history is ground truth.
func (db *DB) PersistPriority(id string, score float64) error {
	res, err := db.Exec(`UPDATE memory_nodes SET priority = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("persist priority: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// SetContextValue sets a single context key on a node. Used by the
// dreamer's consolidation pass to flag superseded nodes.
func (db *DB) SetContextValue(id, key string, value any) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRow(`SELECT context FROM memory_nodes WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return &NotFoundError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("read context: %w", err)
	}

	ctx := map[string]any{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &ctx); err != nil {
			return fmt.Errorf("decode context: %w", err)
		}
	}
	ctx[key] = value

	updated, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if _, err := tx.Exec(`UPDATE memory_nodes SET context = ? WHERE id = ?`, string(updated), id); err != nil {
		return fmt.Errorf("write context: %w", err)
	}
	return tx.Commit()
}

// Scan returns all nodes matching the predicate.
func (db *DB) Scan(pred func(*Node) bool) ([]Node, error) {
	nodes, err := db.AllNodes()
	if err != nil {
		return nil, err
	}
	var out []Node
	for i := range nodes {
		if pred(&nodes[i]) {
			out = append(out, nodes[i])
		}
	}
	return out, nil
}

// AllNodes returns every node, ordered by cached priority descending.
func (db *DB) AllNodes() ([]Node, error) {
	rows, err := db.Query(`
		SELECT id, content, node_type, context, source_ids,
			last_accessed_at, access_count, priority, created_at
		FROM memory_nodes
		ORDER BY priority DESC, last_accessed_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// NodesByType returns all nodes of the given type.
func (db *DB) NodesByType(nodeType string) ([]Node, error) {
	rows, err := db.Query(`
		SELECT id, content, node_type, context, source_ids,
			last_accessed_at, access_count, priority, created_at
		FROM memory_nodes WHERE node_type = ?
		ORDER BY priority DESC
	`, nodeType)
	if err != nil {
		return nil, fmt.Errorf("nodes by type: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// RecentlyAccessed returns nodes whose last front-end access is at or
// after the given unix-millis cutoff.
func (db *DB) RecentlyAccessed(sinceMillis int64) ([]Node, error) {
	rows, err := db.Query(`
		SELECT id, content, node_type, context, source_ids,
			last_accessed_at, access_count, priority, created_at
		FROM memory_nodes
		WHERE access_count > 0 AND last_accessed_at >= ?
		ORDER BY last_accessed_at DESC
	`, sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("recently accessed: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// SearchByContext returns nodes whose context contains every given
// key/value pair.
func (db *DB) SearchByContext(match map[string]any) ([]Node, error) {
	return db.Scan(func(n *Node) bool {
		for k, want := range match {
			got, ok := n.Context[k]
			if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		}
		return true
	})
}

// NodeCount returns the total number of nodes.
func (db *DB) NodeCount() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM memory_nodes").Scan(&count)
	return count, err
}

func (db *DB) nodeExists(id string) (bool, error) {
	var one int
	err := db.QueryRow("SELECT 1 FROM memory_nodes WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check node %s: %w", id, err)
	}
	return true, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var ctxRaw, srcRaw sql.NullString
	err := row.Scan(&n.ID, &n.Content, &n.Type, &ctxRaw, &srcRaw,
		&n.LastAccessedAt, &n.AccessCount, &n.Priority, &n.CreatedAt)
	if err != nil {
		return nil, err
	}

	n.Context = map[string]any{}
	if ctxRaw.Valid && ctxRaw.String != "" {
		if err := json.Unmarshal([]byte(ctxRaw.String), &n.Context); err != nil {
			return nil, fmt.Errorf("decode context for %s: %w", n.ID, err)
		}
	}
	if srcRaw.Valid && srcRaw.String != "" {
		if err := json.Unmarshal([]byte(srcRaw.String), &n.SourceIDs); err != nil {
			return nil, fmt.Errorf("decode source ids for %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}
