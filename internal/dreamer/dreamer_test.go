package dreamer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okonma/reverie/internal/oracle"
	"github.com/okonma/reverie/internal/priority"
	"github.com/okonma/reverie/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testDreamer(t *testing.T, db *store.DB, mock *oracle.Mock) *Dreamer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OracleTimeout = time.Second
	return New(db, mock, mock, priority.DefaultParams(), cfg, nil)
}

// seedClique inserts three nodes and links them pairwise above the
// cluster threshold.
func seedClique(t *testing.T, db *store.DB) []string {
	t.Helper()
	ids := make([]string, 3)
	for i, content := range []string{
		"auth rewrite kickoff: goals and owners",
		"auth rewrite session store tradeoffs",
		"auth rewrite rollout checklist",
	} {
		id, err := db.InsertNode(content, store.TypeNormal, map[string]any{"project": "auth"}, nil)
		if err != nil {
			t.Fatalf("seed node: %v", err)
		}
		ids[i] = id
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if err := db.UpsertEdge(ids[i], ids[j], 0.9, store.RelSemantic, store.ByDreamer, 0.9); err != nil {
				t.Fatalf("seed edge: %v", err)
			}
		}
	}
	return ids
}

func TestRunCycleLinksRelatedPair(t *testing.T) {
	db := testDB(t)
	a, _ := db.InsertNode("first memory about the launch", store.TypeNormal, nil, nil)
	b, _ := db.InsertNode("second memory about the launch", store.TypeNormal, nil, nil)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0.85, Confidence: 0.6}}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(mock.RelateCalls) != 1 {
		t.Errorf("relate calls = %d, want 1 for a two-node graph", len(mock.RelateCalls))
	}

	from, to := a, b
	if to < from {
		from, to = to, from
	}
	e, err := db.GetEdge(from, to, store.RelSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("expected discovered edge")
	}
	if e.Weight != 0.85 || e.CreatedBy != store.ByDreamer {
		t.Errorf("edge = weight %f by %s, want 0.85 by dreamer", e.Weight, e.CreatedBy)
	}
}

func TestRunCycleBelowThresholdNoEdge(t *testing.T) {
	db := testDB(t)
	db.InsertNode("soup recipe", store.TypeNormal, nil, nil)
	db.InsertNode("cluster upgrade plan", store.TypeNormal, nil, nil)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0.1, Confidence: 0.9}}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	count, _ := db.EdgeCount()
	if count != 0 {
		t.Errorf("edge count = %d, want 0 below discovery threshold", count)
	}
}

func TestRunCycleCombinesRediscovery(t *testing.T) {
	db := testDB(t)
	db.InsertNode("first observation of the pattern", store.TypeNormal, nil, nil)
	db.InsertNode("second observation of the pattern", store.TypeNormal, nil, nil)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0.6, Confidence: 0.5}}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	mock.Relation = oracle.Relation{Score: 0.9, Confidence: 0.5}
	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	count, _ := db.EdgeCount()
	if count != 1 {
		t.Fatalf("edge count = %d, want 1 (rediscovery combines, never duplicates)", count)
	}
	edges, _ := db.EdgesAbove(0)
	if math.Abs(edges[0].Weight-0.75) > 1e-9 {
		t.Errorf("combined weight = %f, want weighted average 0.75", edges[0].Weight)
	}
}

func TestRunCycleSynthesizesCluster(t *testing.T) {
	db := testDB(t)
	ids := seedClique(t, db)

	mock := &oracle.Mock{
		Relation: oracle.Relation{Score: 0},
		Summary:  "Summary of the auth rewrite work",
	}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	summaries, err := db.NodesByType(store.TypeSummary)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	sum := summaries[0]
	if sum.Content != mock.Summary {
		t.Errorf("summary content = %q", sum.Content)
	}
	if len(sum.SourceIDs) != 3 {
		t.Fatalf("source ids = %d, want 3", len(sum.SourceIDs))
	}
	sources := make(map[string]bool, 3)
	for _, id := range sum.SourceIDs {
		sources[id] = true
	}
	for _, id := range ids {
		if !sources[id] {
			t.Errorf("cluster member %s missing from summary sources", id)
		}
	}

	// Reference edges run from the summary toward each member.
	edges, err := db.EdgesOf(sum.ID)
	if err != nil {
		t.Fatal(err)
	}
	outgoing := 0
	for _, e := range edges {
		if e.Type != store.RelReference {
			continue
		}
		if e.FromID != sum.ID {
			t.Errorf("reference edge points into the summary: %s -> %s", e.FromID, e.ToID)
		}
		outgoing++
	}
	if outgoing != 3 {
		t.Errorf("outgoing reference edges = %d, want 3", outgoing)
	}
}

func TestRunCycleSkipsCoveredCluster(t *testing.T) {
	db := testDB(t)
	seedClique(t, db)

	mock := &oracle.Mock{
		Relation: oracle.Relation{Score: 0},
		Summary:  "Summary of the auth rewrite work",
	}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	summaries, _ := db.NodesByType(store.TypeSummary)
	if len(summaries) != 1 {
		t.Errorf("summaries = %d after two cycles, want 1 (cluster already covered)", len(summaries))
	}
	if len(mock.SummarizeCalls) != 1 {
		t.Errorf("summarize calls = %d, want 1", len(mock.SummarizeCalls))
	}
}

func TestRunCycleSmallClusterIgnored(t *testing.T) {
	db := testDB(t)
	a, _ := db.InsertNode("one side of a strong pair", store.TypeNormal, nil, nil)
	b, _ := db.InsertNode("other side of a strong pair", store.TypeNormal, nil, nil)
	db.UpsertEdge(a, b, 0.95, store.RelSemantic, store.ByDreamer, 0.9)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0}, Summary: "unused"}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(mock.SummarizeCalls) != 0 {
		t.Errorf("summarize calls = %d, want 0 for a two-node component", len(mock.SummarizeCalls))
	}
}

func TestRunCycleRelateFailureTolerated(t *testing.T) {
	db := testDB(t)
	db.InsertNode("memory one", store.TypeNormal, nil, nil)
	db.InsertNode("memory two", store.TypeNormal, nil, nil)

	mock := &oracle.Mock{RelateErr: errors.New("model unavailable")}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("oracle failure must not abort the cycle: %v", err)
	}
	count, _ := db.EdgeCount()
	if count != 0 {
		t.Errorf("edge count = %d, want 0", count)
	}
}

func TestRunCycleSummarizeFailureSkipsCluster(t *testing.T) {
	db := testDB(t)
	seedClique(t, db)

	mock := &oracle.Mock{
		Relation:     oracle.Relation{Score: 0},
		SummarizeErr: errors.New("model unavailable"),
	}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("oracle failure must not abort the cycle: %v", err)
	}
	summaries, _ := db.NodesByType(store.TypeSummary)
	if len(summaries) != 0 {
		t.Errorf("summaries = %d, want 0 after summarize failure", len(summaries))
	}
}

func TestRunCycleNeverTouches(t *testing.T) {
	db := testDB(t)
	ids := seedClique(t, db)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0.9, Confidence: 0.8}, Summary: "s"}
	d := testDreamer(t, db, mock)

	before := make(map[string]int64, len(ids))
	for _, id := range ids {
		n, err := db.GetNode(id)
		if err != nil {
			t.Fatal(err)
		}
		before[id] = n.LastAccessedAt
	}

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		n, err := db.GetNode(id)
		if err != nil {
			t.Fatal(err)
		}
		if n.AccessCount != 0 {
			t.Errorf("node %s access_count = %d, dreaming must not count as access", id, n.AccessCount)
		}
		if n.LastAccessedAt != before[id] {
			t.Errorf("node %s last_accessed_at moved during dreaming", id)
		}
	}
}

func TestRunCycleRefreshesPriorities(t *testing.T) {
	db := testDB(t)
	db.InsertNode("memory with enough content to score well in ranking", store.TypeNormal, nil, nil)
	db.InsertNode("another memory", store.TypeNormal, nil, nil)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0}}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Fresh nodes start at the placeholder 1.0; the refresh writes the
	// computed score, which is below 1 for short unaccessed content.
	nodes, _ := db.AllNodes()
	for _, n := range nodes {
		if n.Priority <= 0 || n.Priority >= 1 {
			t.Errorf("node %s cached priority = %f, want recomputed score in (0, 1)", n.ID, n.Priority)
		}
	}
}

func TestRunCycleMinPopulation(t *testing.T) {
	db := testDB(t)
	db.InsertNode("a lonely memory", store.TypeNormal, nil, nil)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0.9, Confidence: 0.9}}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(mock.RelateCalls) != 0 {
		t.Errorf("relate calls = %d, want 0 with a single node", len(mock.RelateCalls))
	}
}

func TestRunCycleCancelledBetweenStates(t *testing.T) {
	db := testDB(t)
	db.InsertNode("memory one", store.TypeNormal, nil, nil)
	db.InsertNode("memory two", store.TypeNormal, nil, nil)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0.9, Confidence: 0.9}}
	d := testDreamer(t, db, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.RunCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if d.State() != StateIdle {
		t.Errorf("state = %s after cancelled cycle, want idle", d.State())
	}
	count, _ := db.EdgeCount()
	if count != 0 {
		t.Errorf("edge count = %d, cancelled cycle must not link", count)
	}
}

func TestConsolidateFlagsNearDuplicates(t *testing.T) {
	db := testDB(t)
	content := "The deploy finished at noon without errors"
	older, _ := db.InsertNode(content, store.TypeNormal, nil, nil)
	time.Sleep(5 * time.Millisecond)
	newer, _ := db.InsertNode(content, store.TypeNormal, nil, nil)

	// Mark both as recently used so the consolidation pass sees them.
	db.Touch(older)
	db.Touch(newer)

	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0}}
	d := testDreamer(t, db, mock)

	if err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	e, err := db.GetEdge(newer, older, store.RelReference)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("expected reference edge from newer to older duplicate")
	}

	o, _ := db.GetNode(older)
	if o.Context["superseded_by"] != newer {
		t.Errorf("older context = %v, want superseded_by %s", o.Context, newer)
	}
	n, _ := db.GetNode(newer)
	if _, flagged := n.Context["superseded_by"]; flagged {
		t.Error("newer duplicate must not be flagged")
	}

	// Both nodes survive.
	count, _ := db.NodeCount()
	if count != 2 {
		t.Errorf("node count = %d, want 2 (nothing is deleted)", count)
	}
}

func TestContentSimilarity(t *testing.T) {
	if got := contentSimilarity("same text", "same text"); got != 1 {
		t.Errorf("identical = %f, want 1", got)
	}
	if got := contentSimilarity("", ""); got != 0 {
		t.Errorf("empty = %f, want 0", got)
	}
	if got := contentSimilarity("abcdefgh", "zyxwvuts"); got != 0 {
		t.Errorf("disjoint = %f, want 0", got)
	}
	near := contentSimilarity(
		"The deploy finished at noon without errors",
		"The deploy finished at noon without error",
	)
	if near < 0.9 {
		t.Errorf("near-duplicate = %f, want >= 0.9", near)
	}
}

func TestStartStop(t *testing.T) {
	db := testDB(t)
	mock := &oracle.Mock{Relation: oracle.Relation{Score: 0}}
	d := testDreamer(t, db, mock)

	d.Start()
	d.Start() // second call is a no-op
	if !d.Status().Running {
		t.Error("status not running after Start")
	}

	d.Stop()
	st := d.Status()
	if st.Running {
		t.Error("status still running after Stop")
	}
	if st.State != StateIdle {
		t.Errorf("state = %s after Stop, want idle", st.State)
	}

	d.Stop() // idempotent
}
