package dreamer

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/okonma/reverie/internal/store"
)

// consolidate scans recently-touched nodes for near-duplicate content.
// Rather than deleting either node, it links the pair with a reference
// edge and flags the older one as superseded via a context tag, so
// nothing ever disappears from the store.
func (d *Dreamer) consolidate() error {
	cutoff := time.Now().Add(-d.cfg.RecentWindow).UnixMilli()
	recent, err := d.db.RecentlyAccessed(cutoff)
	if err != nil {
		return err
	}
	if len(recent) < 2 {
		return nil
	}

	for i := 0; i < len(recent); i++ {
		for j := i + 1; j < len(recent); j++ {
			a, b := &recent[i], &recent[j]
			sim := contentSimilarity(a.Content, b.Content)
			if sim < d.cfg.MergeSimilarity {
				continue
			}

			older, newer := a, b
			if b.CreatedAt < a.CreatedAt {
				older, newer = b, a
			}
			if _, flagged := older.Context["superseded_by"]; flagged {
				continue
			}

			if err := d.db.UpsertEdge(newer.ID, older.ID, sim, store.RelReference, store.ByDreamer, sim); err != nil {
				if store.IsValidation(err) {
					continue
				}
				return err
			}
			if err := d.db.SetContextValue(older.ID, "superseded_by", newer.ID); err != nil {
				return err
			}
			older.Context["superseded_by"] = newer.ID

			d.log.Info("flagged near-duplicate",
				zap.String("older", older.ID),
				zap.String("newer", newer.ID),
				zap.Float64("similarity", sim))
		}
	}
	return nil
}

// contentSimilarity is the Jaccard index over character bigrams.
// Near-duplicate detection runs without the oracle.
func contentSimilarity(a, b string) float64 {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}
	union := len(bigramsA) + len(bigramsB) - shared
	if union == 0 {
		return 1
	}
	return float64(shared) / float64(union)
}

func bigrams(s string) map[string]bool {
	if len(s) < 2 {
		return nil
	}
	m := make(map[string]bool, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		m[s[i:i+2]] = true
	}
	return m
}
