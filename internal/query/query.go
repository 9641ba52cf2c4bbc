// Package query implements the four front-end retrieval operations
// over the graph store. Every node a query returns directly counts as
// a front-end access and is touched; nodes that are merely traversed
// (edge peers in a recall) are not.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okonma/reverie/internal/priority"
	"github.com/okonma/reverie/internal/store"
)

// Options tunes matching and ranking.
type Options struct {
	// MatchThreshold is the minimum match score for SpecificSearch and
	// KnowledgeOverview.
	MatchThreshold float64
	// ExhaustiveThreshold is the relaxed minimum used by
	// ExhaustiveSearch. Must not exceed MatchThreshold so exhaustive
	// results are a superset of specific results.
	ExhaustiveThreshold float64
	// PriorityFloor excludes deeply-decayed nodes from SpecificSearch.
	// ExhaustiveSearch ignores it.
	PriorityFloor float64
	// Limit caps SpecificSearch and KnowledgeOverview results.
	Limit int
}

// DefaultOptions returns the standard query tuning.
func DefaultOptions() Options {
	return Options{
		MatchThreshold:      0.5,
		ExhaustiveThreshold: 0.2,
		PriorityFloor:       0.05,
		Limit:               10,
	}
}

// Engine answers front-end queries against the store.
type Engine struct {
	DB       *store.DB
	Priority priority.Params
	Opts     Options
}

// New creates a query engine with default options.
func New(db *store.DB, params priority.Params) *Engine {
	return &Engine{DB: db, Priority: params, Opts: DefaultOptions()}
}

// Hit is a ranked search result.
type Hit struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Snippet  string         `json:"snippet"`
	Context  map[string]any `json:"context"`
	Match    float64        `json:"match"`
	Priority float64        `json:"priority"`
	Score    float64        `json:"score"`
}

// Title is a minimal exhaustive-search result.
type Title struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Match   float64 `json:"match"`
}

// RelatedEdge describes one edge of a recalled node.
type RelatedEdge struct {
	NodeID string  `json:"node_id"`
	Type   string  `json:"relationship_type"`
	Weight float64 `json:"weight"`
}

// RecallResult is the full node payload plus its relationships.
type RecallResult struct {
	Node  *store.Node
	Edges []RelatedEdge
}

// SpecificSearch matches nodes on content/context overlap and ranks by
// match * priority. Nodes below the match threshold or priority floor
// are excluded. An empty result is not an error.
func (e *Engine) SpecificSearch(q string) ([]Hit, error) {
	hits, err := e.match(q, e.Opts.MatchThreshold, e.Opts.PriorityFloor)
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	hits = e.truncate(hits)
	e.touchAll(hits)
	return hits, nil
}

// KnowledgeOverview surfaces the most synthesized nodes first:
// abstract over summary over normal, then priority within each tier.
func (e *Engine) KnowledgeOverview(topic string) ([]Hit, error) {
	hits, err := e.match(topic, e.Opts.MatchThreshold, 0)
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		ri, rj := typeRank(hits[i].Type), typeRank(hits[j].Type)
		if ri != rj {
			return ri > rj
		}
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority > hits[j].Priority
		}
		return hits[i].Score > hits[j].Score
	})
	hits = e.truncate(hits)
	e.touchAll(hits)
	return hits, nil
}

// ExhaustiveSearch relaxes the match threshold and drops the priority
// floor, returning titles and snippets only. Its result ids are always
// a superset of SpecificSearch's for the same query and store state.
func (e *Engine) ExhaustiveSearch(q string) ([]Title, error) {
	threshold := e.Opts.ExhaustiveThreshold
	if threshold > e.Opts.MatchThreshold {
		threshold = e.Opts.MatchThreshold
	}

	hits, err := e.match(q, threshold, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	titles := make([]Title, 0, len(hits))
	for _, h := range hits {
		titles = append(titles, Title{
			ID:      h.ID,
			Type:    h.Type,
			Title:   firstLine(h.Snippet, 80),
			Snippet: h.Snippet,
			Match:   h.Match,
		})
		if err := e.DB.Touch(h.ID); err != nil {
			return nil, err
		}
	}
	return titles, nil
}

// Recall returns full node content, metadata, and relationships.
// It is the only operation guaranteed to touch its target. The edge
// peers are not touched.
func (e *Engine) Recall(id string) (*RecallResult, error) {
	if _, err := e.DB.GetNode(id); err != nil {
		return nil, err
	}
	if err := e.DB.Touch(id); err != nil {
		return nil, err
	}

	node, err := e.DB.GetNode(id)
	if err != nil {
		return nil, err
	}
	node.Priority = e.Priority.Score(node, time.Now())

	edges, err := e.DB.EdgesOf(id)
	if err != nil {
		return nil, err
	}
	related := make([]RelatedEdge, 0, len(edges))
	for _, edge := range edges {
		related = append(related, RelatedEdge{
			NodeID: edge.Peer(id),
			Type:   edge.Type,
			Weight: edge.Weight,
		})
	}

	return &RecallResult{Node: node, Edges: related}, nil
}

// match scans the store and scores every node against the query.
func (e *Engine) match(q string, threshold, floor float64) ([]Hit, error) {
	queryTokens := tokens(q)
	if len(queryTokens) == 0 {
		return []Hit{}, nil
	}

	nodes, err := e.DB.AllNodes()
	if err != nil {
		return nil, fmt.Errorf("match scan: %w", err)
	}

	now := time.Now()
	hits := []Hit{}
	for i := range nodes {
		n := &nodes[i]
		match := matchScore(n, queryTokens)
		if match < threshold {
			continue
		}
		prio := e.Priority.Score(n, now)
		if prio < floor {
			continue
		}
		hits = append(hits, Hit{
			ID:       n.ID,
			Type:     n.Type,
			Snippet:  firstLine(n.Content, 160),
			Context:  n.Context,
			Match:    match,
			Priority: prio,
			Score:    match * prio,
		})
	}
	return hits, nil
}

func (e *Engine) truncate(hits []Hit) []Hit {
	limit := e.Opts.Limit
	if limit <= 0 {
		limit = DefaultOptions().Limit
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (e *Engine) touchAll(hits []Hit) {
	for _, h := range hits {
		// Returned hits were just read from the store; a touch can only
		// miss if the id vanished, which the store never does.
		e.DB.Touch(h.ID)
	}
}

// matchScore is the fraction of query tokens found in the node's
// content tokens or context values.
func matchScore(n *store.Node, queryTokens []string) float64 {
	contentTokens := tokenSet(n.Content)

	var contextText strings.Builder
	for k, v := range n.Context {
		contextText.WriteString(strings.ToLower(k))
		contextText.WriteByte(' ')
		contextText.WriteString(strings.ToLower(fmt.Sprint(v)))
		contextText.WriteByte(' ')
	}
	contextStr := contextText.String()

	found := 0
	for _, tok := range queryTokens {
		if contentTokens[tok] || strings.Contains(contextStr, tok) {
			found++
		}
	}
	return float64(found) / float64(len(queryTokens))
}

func typeRank(nodeType string) int {
	switch nodeType {
	case store.TypeAbstract:
		return 3
	case store.TypeSummary:
		return 2
	default:
		return 1
	}
}

func firstLine(content string, max int) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	if len(content) > max {
		return content[:max] + "..."
	}
	return content
}

// tokens splits text into lowercase word tokens, stripping punctuation.
func tokens(text string) []string {
	text = strings.ToLower(text)
	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 { // skip single-char tokens
			out = append(out, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokens(text) {
		set[t] = true
	}
	return set
}
