package query

import (
	"fmt"
	"testing"

	"github.com/okonma/reverie/internal/priority"
	"github.com/okonma/reverie/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, priority.DefaultParams()), db
}

func seedMeeting(t *testing.T, db *store.DB) (string, string, string) {
	t.Helper()
	launch, err := db.InsertNode(
		"Meeting notes: the Launch project ships November 3rd, marketing owns the announcement",
		store.TypeNormal,
		map[string]any{"project": "launch", "type": "meeting"},
		nil,
	)
	if err != nil {
		t.Fatalf("seed launch: %v", err)
	}
	standup, err := db.InsertNode(
		"Standup: database migration for the billing service is blocked on credentials",
		store.TypeNormal,
		map[string]any{"project": "billing", "type": "meeting"},
		nil,
	)
	if err != nil {
		t.Fatalf("seed standup: %v", err)
	}
	recipe, err := db.InsertNode(
		"Grandma's soup recipe: two onions, one carrot, simmer forty minutes",
		store.TypeNormal,
		map[string]any{"type": "personal"},
		nil,
	)
	if err != nil {
		t.Fatalf("seed recipe: %v", err)
	}
	return launch, standup, recipe
}

func TestSpecificSearch(t *testing.T) {
	e, db := testEngine(t)
	launch, _, _ := seedMeeting(t, db)

	hits, err := e.SpecificSearch("launch meeting")
	if err != nil {
		t.Fatalf("SpecificSearch: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits for launch meeting")
	}
	if hits[0].ID != launch {
		t.Errorf("top hit = %s, want launch node %s", hits[0].ID, launch)
	}
	for _, h := range hits {
		if h.Match < e.Opts.MatchThreshold {
			t.Errorf("hit %s match %f below threshold", h.ID, h.Match)
		}
		if h.Score != h.Match*h.Priority {
			t.Errorf("hit %s score %f != match*priority %f", h.ID, h.Score, h.Match*h.Priority)
		}
	}

	// Returned hits count as front-end accesses.
	n, _ := db.GetNode(launch)
	if n.AccessCount != 1 {
		t.Errorf("launch access_count = %d, want 1 after search", n.AccessCount)
	}
}

func TestStoreThenFindByContent(t *testing.T) {
	e, db := testEngine(t)
	id, err := db.InsertNode("Team meeting Friday 2pm", store.TypeNormal, map[string]any{"project": "Launch"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	hits, err := e.SpecificSearch("meeting")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, h := range hits {
		if h.ID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("search for %q did not return the stored memory", "meeting")
	}
}

func TestSpecificSearchEmptyResult(t *testing.T) {
	e, db := testEngine(t)
	seedMeeting(t, db)

	hits, err := e.SpecificSearch("quantum chromodynamics")
	if err != nil {
		t.Fatalf("SpecificSearch: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want none", len(hits))
	}
}

func TestSpecificSearchNoMatchNoTouch(t *testing.T) {
	e, db := testEngine(t)
	_, _, recipe := seedMeeting(t, db)

	if _, err := e.SpecificSearch("launch meeting"); err != nil {
		t.Fatal(err)
	}
	n, _ := db.GetNode(recipe)
	if n.AccessCount != 0 {
		t.Errorf("recipe access_count = %d, want 0 (not returned)", n.AccessCount)
	}
}

func TestSpecificSearchLimit(t *testing.T) {
	e, db := testEngine(t)
	for i := 0; i < 15; i++ {
		if _, err := db.InsertNode(
			fmt.Sprintf("launch update number %d with fresh details", i),
			store.TypeNormal, nil, nil,
		); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := e.SpecificSearch("launch update")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != e.Opts.Limit {
		t.Errorf("hits = %d, want limit %d", len(hits), e.Opts.Limit)
	}
}

func TestExhaustiveSupersetOfSpecific(t *testing.T) {
	e, db := testEngine(t)
	seedMeeting(t, db)
	// A node matching only one of three query tokens clears the
	// exhaustive threshold but not the specific one.
	if _, err := db.InsertNode(
		"Reminder to book the launch venue",
		store.TypeNormal, nil, nil,
	); err != nil {
		t.Fatal(err)
	}

	q := "launch meeting marketing"
	specific, err := e.SpecificSearch(q)
	if err != nil {
		t.Fatal(err)
	}
	exhaustive, err := e.ExhaustiveSearch(q)
	if err != nil {
		t.Fatal(err)
	}

	if len(exhaustive) <= len(specific) {
		t.Errorf("exhaustive returned %d, specific %d; want strictly more here", len(exhaustive), len(specific))
	}
	exIDs := make(map[string]bool, len(exhaustive))
	for _, title := range exhaustive {
		exIDs[title.ID] = true
	}
	for _, h := range specific {
		if !exIDs[h.ID] {
			t.Errorf("specific hit %s missing from exhaustive results", h.ID)
		}
	}
}

func TestExhaustiveIgnoresPriorityFloor(t *testing.T) {
	e, db := testEngine(t)
	id, err := db.InsertNode("launch retrospective notes", store.TypeNormal, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Raise the floor above anything a fresh node can score so the
	// specific search drops it.
	e.Opts.PriorityFloor = 10

	specific, err := e.SpecificSearch("launch retrospective")
	if err != nil {
		t.Fatal(err)
	}
	if len(specific) != 0 {
		t.Fatalf("specific hits = %d, want 0 under raised floor", len(specific))
	}

	exhaustive, err := e.ExhaustiveSearch("launch retrospective")
	if err != nil {
		t.Fatal(err)
	}
	if len(exhaustive) != 1 || exhaustive[0].ID != id {
		t.Errorf("exhaustive = %v, want the deprioritized node", exhaustive)
	}
}

func TestExhaustiveTitles(t *testing.T) {
	e, db := testEngine(t)
	if _, err := db.InsertNode(
		"Launch checklist first draft\nsecond line with the details",
		store.TypeNormal, nil, nil,
	); err != nil {
		t.Fatal(err)
	}

	titles, err := e.ExhaustiveSearch("launch checklist")
	if err != nil {
		t.Fatal(err)
	}
	if len(titles) != 1 {
		t.Fatalf("titles = %d, want 1", len(titles))
	}
	if titles[0].Title != "Launch checklist first draft" {
		t.Errorf("title = %q, want first line only", titles[0].Title)
	}
}

func TestKnowledgeOverviewRanksSynthesized(t *testing.T) {
	e, db := testEngine(t)
	a, _ := db.InsertNode("launch planning session one", store.TypeNormal, nil, nil)
	b, _ := db.InsertNode("launch planning session two", store.TypeNormal, nil, nil)
	sum, err := db.InsertNode(
		"Summary of launch planning across both sessions",
		store.TypeSummary, nil, []string{a, b},
	)
	if err != nil {
		t.Fatalf("insert summary: %v", err)
	}

	hits, err := e.KnowledgeOverview("launch planning")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %d, want 3", len(hits))
	}
	if hits[0].ID != sum {
		t.Errorf("top hit = %s (%s), want summary %s first", hits[0].ID, hits[0].Type, sum)
	}
}

func TestRecall(t *testing.T) {
	e, db := testEngine(t)
	launch, standup, _ := seedMeeting(t, db)
	if err := db.UpsertEdge(launch, standup, 0.6, store.RelContextual, store.ByDreamer, 0.7); err != nil {
		t.Fatal(err)
	}

	res, err := e.Recall(launch)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if res.Node.AccessCount != 1 {
		t.Errorf("access_count = %d, want 1 after first recall", res.Node.AccessCount)
	}
	if res.Node.Priority <= 0 {
		t.Errorf("priority = %f, want positive", res.Node.Priority)
	}
	if len(res.Edges) != 1 || res.Edges[0].NodeID != standup {
		t.Errorf("edges = %v, want single edge to standup", res.Edges)
	}

	// Second recall: count advances, score does not drop.
	first := res.Node.Priority
	res2, err := e.Recall(launch)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Node.AccessCount != 2 {
		t.Errorf("access_count = %d, want 2 after second recall", res2.Node.AccessCount)
	}
	if res2.Node.Priority < first {
		t.Errorf("priority dropped across recalls: %f -> %f", first, res2.Node.Priority)
	}

	// Traversed peers are not touched.
	peer, _ := db.GetNode(standup)
	if peer.AccessCount != 0 {
		t.Errorf("peer access_count = %d, want 0", peer.AccessCount)
	}
}

func TestRecallNotFound(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.Recall("missing-id"); !store.IsNotFound(err) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestMatchScoreUsesContext(t *testing.T) {
	e, db := testEngine(t)
	id, err := db.InsertNode(
		"Discussed the timeline with the team",
		store.TypeNormal,
		map[string]any{"project": "launch"},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	hits, err := e.SpecificSearch("launch timeline")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != id {
		t.Fatalf("hits = %v, want the context match", hits)
	}
	if hits[0].Match != 1.0 {
		t.Errorf("match = %f, want 1.0 (one token content, one context)", hits[0].Match)
	}
}
