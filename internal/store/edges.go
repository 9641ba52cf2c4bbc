package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Relationship types.
const (
	RelTemporal   = "temporal"
	RelContextual = "contextual"
	RelSemantic   = "semantic"
	RelCausal     = "causal"
	RelReference  = "reference"
)

// Edge creators.
const (
	ByDreamer = "dreamer"
	ByUser    = "user"
	BySystem  = "system"
)

// Edge represents a directed, weighted, typed relationship between
// two memory nodes. At most one edge exists per (from, to, type).
type Edge struct {
	FromID     string
	ToID       string
	Weight     float64
	Type       string
	CreatedBy  string
	Confidence float64
	CreatedAt  int64 // unix millis
}

// Peer returns the other endpoint relative to the given node id.
func (e *Edge) Peer(id string) string {
	if e.FromID == id {
		return e.ToID
	}
	return e.FromID
}

// CombinePolicy decides the resulting weight/confidence when an edge
// for the same (from, to, type) is discovered again.
type CombinePolicy string

const (
	// CombineWeightedAverage blends old and new weight using confidence
	// as the blend weight.
	CombineWeightedAverage CombinePolicy = "weighted-average"
	// CombineMax keeps the stronger observation.
	CombineMax CombinePolicy = "max"
	// CombineLast overwrites with the latest observation.
	CombineLast CombinePolicy = "last"
)

// ValidCombinePolicy reports whether p names a known policy.
func ValidCombinePolicy(p CombinePolicy) bool {
	switch p {
	case CombineWeightedAverage, CombineMax, CombineLast:
		return true
	}
	return false
}

func (p CombinePolicy) apply(oldW, oldC, newW, newC float64) (weight, confidence float64) {
	switch p {
	case CombineMax:
		if newW > oldW {
			return newW, newC
		}
		return oldW, oldC
	case CombineLast:
		return newW, newC
	default: // weighted average
		total := oldC + newC
		if total == 0 {
			return (oldW + newW) / 2, 0
		}
		return (oldW*oldC + newW*newC) / total, (oldC + newC) / 2
	}
}

func validRelType(t string) bool {
	switch t {
	case RelTemporal, RelContextual, RelSemantic, RelCausal, RelReference:
		return true
	}
	return false
}

func validCreator(c string) bool {
	return c == ByDreamer || c == ByUser || c == BySystem
}

// UpsertEdge creates an edge or, when one already exists for the same
// (from, to, type), applies the configured combine policy inside a
// transaction so concurrent upserts never lose a combine step.
func (db *DB) UpsertEdge(fromID, toID string, weight float64, relType, createdBy string, confidence float64) error {
	if fromID == toID {
		return &ValidationError{Field: "edge", Reason: "self-loops are not allowed"}
	}
	if weight < 0 || weight > 1 {
		return &ValidationError{Field: "weight", Reason: fmt.Sprintf("%.3f out of range [0,1]", weight)}
	}
	if confidence < 0 || confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%.3f out of range [0,1]", confidence)}
	}
	if !validRelType(relType) {
		return &ValidationError{Field: "relationship_type", Reason: fmt.Sprintf("unknown type %q", relType)}
	}
	if !validCreator(createdBy) {
		return &ValidationError{Field: "created_by", Reason: fmt.Sprintf("unknown creator %q", createdBy)}
	}
	for _, id := range []string{fromID, toID} {
		exists, err := db.nodeExists(id)
		if err != nil {
			return err
		}
		if !exists {
			return &ValidationError{Field: "edge", Reason: fmt.Sprintf("endpoint %s does not exist", id)}
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var oldW, oldC float64
	err = tx.QueryRow(`
		SELECT weight, confidence FROM memory_edges
		WHERE from_id = ? AND to_id = ? AND relationship_type = ?
	`, fromID, toID, relType).Scan(&oldW, &oldC)

	now := time.Now().UnixMilli()
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO memory_edges (from_id, to_id, weight, relationship_type, created_by, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, fromID, toID, weight, relType, createdBy, confidence, now)
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read edge: %w", err)
	default:
		policy := db.Combine
		if !ValidCombinePolicy(policy) {
			policy = CombineWeightedAverage
		}
		w, c := policy.apply(oldW, oldC, weight, confidence)
		_, err = tx.Exec(`
			UPDATE memory_edges SET weight = ?, confidence = ?
			WHERE from_id = ? AND to_id = ? AND relationship_type = ?
		`, w, c, fromID, toID, relType)
		if err != nil {
			return fmt.Errorf("combine edge: %w", err)
		}
	}

	return tx.Commit()
}

// EdgesOf returns all edges incident to a node (either direction),
// sorted by weight descending.
func (db *DB) EdgesOf(id string) ([]Edge, error) {
	exists, err := db.nodeExists(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &NotFoundError{ID: id}
	}

	rows, err := db.Query(`
		SELECT from_id, to_id, weight, relationship_type, created_by, confidence, created_at
		FROM memory_edges
		WHERE from_id = ? OR to_id = ?
		ORDER BY weight DESC, created_at ASC
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("edges of %s: %w", id, err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// EdgesAbove returns every edge with weight at or above the threshold,
// sorted by weight descending. Used by the dreamer's cluster scan.
func (db *DB) EdgesAbove(threshold float64) ([]Edge, error) {
	rows, err := db.Query(`
		SELECT from_id, to_id, weight, relationship_type, created_by, confidence, created_at
		FROM memory_edges
		WHERE weight >= ?
		ORDER BY weight DESC
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("edges above %.2f: %w", threshold, err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// GetEdge returns the edge for an exact (from, to, type) triple,
// or nil when absent.
func (db *DB) GetEdge(fromID, toID, relType string) (*Edge, error) {
	row := db.QueryRow(`
		SELECT from_id, to_id, weight, relationship_type, created_by, confidence, created_at
		FROM memory_edges
		WHERE from_id = ? AND to_id = ? AND relationship_type = ?
	`, fromID, toID, relType)

	var e Edge
	err := row.Scan(&e.FromID, &e.ToID, &e.Weight, &e.Type, &e.CreatedBy, &e.Confidence, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get edge: %w", err)
	}
	return &e, nil
}

// EdgeCount returns the total number of edges.
func (db *DB) EdgeCount() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM memory_edges").Scan(&count)
	return count, err
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Weight, &e.Type, &e.CreatedBy, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
