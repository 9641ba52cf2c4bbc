package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Heuristic is the default oracle: a deterministic relatedness and
// summarization model built from context overlap, content token
// similarity, and temporal proximity. It never fails, needs no
// network, and keeps the engine useful without any hosted model.
type Heuristic struct{}

// Relate scores two nodes by shared context values, content token
// Jaccard similarity, and a boost for creation within 24 hours.
func (Heuristic) Relate(_ context.Context, a, b NodeView) (Relation, error) {
	score := 0.0
	shared := 0
	for k, va := range a.Context {
		vb, ok := b.Context[k]
		if !ok {
			continue
		}
		if fmt.Sprint(va) == fmt.Sprint(vb) {
			score += 0.2
			shared++
		}
	}

	tokensA := tokenSet(a.Content)
	tokensB := tokenSet(b.Content)
	score += jaccard(tokensA, tokensB) * 0.5

	// Memories created close together in time tend to belong together.
	diff := a.CreatedAt - b.CreatedAt
	if diff < 0 {
		diff = -diff
	}
	if diff < (24 * time.Hour).Milliseconds() {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}

	confidence := 0.5 + 0.1*float64(shared)
	if confidence > 0.9 {
		confidence = 0.9
	}
	return Relation{Score: score, Confidence: confidence}, nil
}

// Summarize renders a template summary from the member previews.
func (Heuristic) Summarize(_ context.Context, members []NodeView) (string, error) {
	if len(members) == 0 {
		return "", fmt.Errorf("no members to summarize")
	}

	topic := commonTopic(members)
	var sb strings.Builder
	if topic != "" {
		fmt.Fprintf(&sb, "Summary of %s (%d memories):\n", topic, len(members))
	} else {
		fmt.Fprintf(&sb, "Summary of %d related memories:\n", len(members))
	}
	for _, m := range members {
		fmt.Fprintf(&sb, "- %s\n", preview(m.Content, 80))
	}
	return sb.String(), nil
}

// commonTopic returns a context value shared by every member, checking
// the keys the front-end conventionally sets.
func commonTopic(members []NodeView) string {
	for _, key := range []string{"project", "topic", "type"} {
		first, ok := members[0].Context[key]
		if !ok {
			continue
		}
		want := fmt.Sprint(first)
		match := true
		for _, m := range members[1:] {
			got, ok := m.Context[key]
			if !ok || fmt.Sprint(got) != want {
				match = false
				break
			}
		}
		if match {
			return want
		}
	}
	return ""
}

func preview(content string, max int) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	if len(content) > max {
		return content[:max] + "..."
	}
	return content
}

// tokenSet splits text into lowercase tokens, stripping punctuation.
func tokenSet(text string) map[string]bool {
	text = strings.ToLower(text)
	set := make(map[string]bool)
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 { // skip single-char tokens
			set[current.String()] = true
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
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
