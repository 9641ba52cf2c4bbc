package oracle

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestHeuristicRelate(t *testing.T) {
	h := Heuristic{}
	ctx := context.Background()
	now := time.Now().UnixMilli()

	a := NodeView{
		Content:   "debugging the payment service timeout in production",
		Context:   map[string]any{"project": "billing", "type": "incident"},
		CreatedAt: now,
	}
	b := NodeView{
		Content:   "payment service timeout traced to connection pool exhaustion",
		Context:   map[string]any{"project": "billing", "type": "incident"},
		CreatedAt: now,
	}

	rel, err := h.Relate(ctx, a, b)
	if err != nil {
		t.Fatalf("Relate: %v", err)
	}
	// Two shared context values, overlapping tokens, same-day creation.
	if rel.Score < 0.5 {
		t.Errorf("related pair scored %f, want >= 0.5", rel.Score)
	}
	if rel.Score > 1 || rel.Confidence > 1 {
		t.Errorf("score/confidence out of range: %f/%f", rel.Score, rel.Confidence)
	}
	if rel.Confidence != 0.7 {
		t.Errorf("confidence = %f, want 0.7 for two shared context values", rel.Confidence)
	}
}

func TestHeuristicRelateUnrelated(t *testing.T) {
	h := Heuristic{}
	old := time.Now().Add(-30 * 24 * time.Hour).UnixMilli()

	a := NodeView{
		Content:   "grandma's soup recipe with onions and carrots",
		Context:   map[string]any{"type": "personal"},
		CreatedAt: old,
	}
	b := NodeView{
		Content:   "kubernetes cluster upgrade rollout plan",
		Context:   map[string]any{"type": "work"},
		CreatedAt: time.Now().UnixMilli(),
	}

	rel, err := h.Relate(context.Background(), a, b)
	if err != nil {
		t.Fatal(err)
	}
	if rel.Score >= 0.3 {
		t.Errorf("unrelated pair scored %f, want below 0.3", rel.Score)
	}
}

func TestHeuristicRelateSymmetric(t *testing.T) {
	h := Heuristic{}
	a := NodeView{Content: "launch ships november third", Context: map[string]any{"project": "launch"}}
	b := NodeView{Content: "november third is the launch date", Context: map[string]any{"project": "launch"}}

	ab, _ := h.Relate(context.Background(), a, b)
	ba, _ := h.Relate(context.Background(), b, a)
	if ab.Score != ba.Score {
		t.Errorf("asymmetric scores: %f vs %f", ab.Score, ba.Score)
	}
}

func TestHeuristicSummarize(t *testing.T) {
	h := Heuristic{}
	members := []NodeView{
		{Content: "sprint planning covered the auth rewrite", Context: map[string]any{"project": "auth"}},
		{Content: "auth rewrite blocked on the session store", Context: map[string]any{"project": "auth"}},
		{Content: "session store decision: keep sqlite", Context: map[string]any{"project": "auth"}},
	}

	summary, err := h.Summarize(context.Background(), members)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(summary, "auth") {
		t.Errorf("summary missing shared topic: %q", summary)
	}
	if !strings.Contains(summary, "3 memories") {
		t.Errorf("summary missing member count: %q", summary)
	}
	for _, m := range members {
		if !strings.Contains(summary, preview(m.Content, 80)) {
			t.Errorf("summary missing preview of %q", m.Content)
		}
	}
}

func TestHeuristicSummarizeNoMembers(t *testing.T) {
	h := Heuristic{}
	if _, err := h.Summarize(context.Background(), nil); err == nil {
		t.Error("expected error for empty member list")
	}
}

func TestJaccard(t *testing.T) {
	a := tokenSet("the quick brown fox")
	b := tokenSet("the quick red fox")
	// Shared: the, quick, fox. Union: 5.
	if got := jaccard(a, b); got != 0.6 {
		t.Errorf("jaccard = %f, want 0.6", got)
	}
	if got := jaccard(a, map[string]bool{}); got != 0 {
		t.Errorf("jaccard with empty set = %f, want 0", got)
	}
}

func TestMockOracle(t *testing.T) {
	m := &Mock{
		Relation: Relation{Score: 0.9, Confidence: 0.8},
		Summary:  "scripted summary",
	}

	rel, err := m.Relate(context.Background(), NodeView{ID: "a"}, NodeView{ID: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if rel.Score != 0.9 {
		t.Errorf("score = %f, want scripted 0.9", rel.Score)
	}
	if len(m.RelateCalls) != 1 || m.RelateCalls[0] != [2]string{"a", "b"} {
		t.Errorf("RelateCalls = %v, want recorded pair", m.RelateCalls)
	}

	s, err := m.Summarize(context.Background(), []NodeView{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if s != "scripted summary" {
		t.Errorf("summary = %q", s)
	}
	if len(m.SummarizeCalls) != 1 {
		t.Errorf("SummarizeCalls = %d, want 1", len(m.SummarizeCalls))
	}
}
