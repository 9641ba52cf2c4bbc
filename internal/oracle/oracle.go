// Package oracle defines the injected AI capabilities the engine
// consults: relatedness scoring between node pairs and cluster
// summarization. Implementations may call external models and may
// fail or time out; callers treat every failure as "no answer" and
// move on.
package oracle

import (
	"context"

	"github.com/okonma/reverie/internal/store"
)

// NodeView is the read-only slice of a node an oracle sees.
type NodeView struct {
	ID        string
	Content   string
	Context   map[string]any
	Type      string
	CreatedAt int64 // unix millis
}

// View projects a store node into an oracle view.
func View(n *store.Node) NodeView {
	return NodeView{
		ID:        n.ID,
		Content:   n.Content,
		Context:   n.Context,
		Type:      n.Type,
		CreatedAt: n.CreatedAt,
	}
}

// Relation is a relatedness judgement between two nodes.
type Relation struct {
	Score      float64 // [0,1]
	Confidence float64 // [0,1]
}

// Relatedness scores how related two memory nodes are.
type Relatedness interface {
	Relate(ctx context.Context, a, b NodeView) (Relation, error)
}

// Summarizer produces summary content for a cluster of member nodes.
type Summarizer interface {
	Summarize(ctx context.Context, members []NodeView) (string, error)
}
