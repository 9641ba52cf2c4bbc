package oracle

import "context"

// Mock is a test double for both oracle interfaces. It records calls
// and returns scripted results, or delegates to the optional funcs.
type Mock struct {
	Relation   Relation
	RelateErr  error
	RelateFunc func(a, b NodeView) (Relation, error)

	Summary       string
	SummarizeErr  error
	SummarizeFunc func(members []NodeView) (string, error)

	RelateCalls    [][2]string // (a.ID, b.ID) per call
	SummarizeCalls [][]string  // member ids per call
}

// Relate records the pair and returns the scripted relation.
func (m *Mock) Relate(_ context.Context, a, b NodeView) (Relation, error) {
	m.RelateCalls = append(m.RelateCalls, [2]string{a.ID, b.ID})
	if m.RelateFunc != nil {
		return m.RelateFunc(a, b)
	}
	return m.Relation, m.RelateErr
}

// Summarize records the member ids and returns the scripted summary.
func (m *Mock) Summarize(_ context.Context, members []NodeView) (string, error) {
	ids := make([]string, len(members))
	for i, mem := range members {
		ids[i] = mem.ID
	}
	m.SummarizeCalls = append(m.SummarizeCalls, ids)
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(members)
	}
	return m.Summary, m.SummarizeErr
}
