// Package priority computes time-decaying ranking scores for memory
// nodes from their access history.
//
//	priority = relevance(node) * recency(now - last_access) * frequency(access_count)
//
// Recency halves every HalfLife without a front-end access and never
// increases with time. Frequency grows with access_count and saturates.
// Relevance is a static content-richness signal, constant between
// accesses. Scoring is pure: the same (node, now) always yields the
// same value.
package priority

import (
	"math"
	"time"

	"github.com/okonma/reverie/internal/store"
)

// RelevanceFunc rates a node's content richness in (0, 1].
type RelevanceFunc func(n *store.Node) float64

// Params configures scoring. Zero-value fields are replaced by the
// corresponding DefaultParams values at score time.
type Params struct {
	// HalfLife is the elapsed time after which recency halves.
	HalfLife time.Duration
	// FrequencySaturation controls how quickly repeated accesses stop
	// boosting the score. Higher values saturate more slowly.
	FrequencySaturation float64
	// Floor is the minimum recency factor. Memories are deprioritized,
	// never forgotten.
	Floor float64
	// Relevance rates content richness; DefaultRelevance if nil.
	Relevance RelevanceFunc
}

// DefaultParams returns the standard scoring configuration:
// 7-day half-life, saturation at 5 accesses, floor 0.01.
func DefaultParams() Params {
	return Params{
		HalfLife:            7 * 24 * time.Hour,
		FrequencySaturation: 5,
		Floor:               0.01,
		Relevance:           DefaultRelevance,
	}
}

// DefaultRelevance rates nodes by normalized content length: short
// fragments score near 0.25, content of 400+ characters scores 1.0.
func DefaultRelevance(n *store.Node) float64 {
	const fullAt = 400.0
	frac := float64(len(n.Content)) / fullAt
	if frac > 1 {
		frac = 1
	}
	return 0.25 + 0.75*frac
}

// Score computes the priority of a node at the given instant.
// Touching a node and scoring immediately afterward always yields a
// value at or above the pre-touch score.
func (p Params) Score(n *store.Node, now time.Time) float64 {
	return p.relevance(n) * p.RecencyFactor(n, now) * p.FrequencyFactor(n.AccessCount)
}

// RecencyFactor decays exponentially with time since the last
// front-end access: 0.5^(elapsed/halfLife), clamped to [Floor, 1].
func (p Params) RecencyFactor(n *store.Node, now time.Time) float64 {
	halfLife := p.HalfLife
	if halfLife <= 0 {
		halfLife = DefaultParams().HalfLife
	}
	floor := p.Floor
	if floor <= 0 {
		floor = DefaultParams().Floor
	}

	ref := n.LastAccessedAt
	if ref == 0 {
		ref = n.CreatedAt
	}
	elapsed := now.UnixMilli() - ref
	if elapsed <= 0 {
		return 1.0
	}

	decay := math.Exp2(-float64(elapsed) / float64(halfLife.Milliseconds()))
	if decay < floor {
		return floor
	}
	return decay
}

// FrequencyFactor is monotonically non-decreasing in the access count
// and saturates at 2.0: 2 - 0.5^(count/saturation).
func (p Params) FrequencyFactor(accessCount int) float64 {
	sat := p.FrequencySaturation
	if sat <= 0 {
		sat = DefaultParams().FrequencySaturation
	}
	if accessCount < 0 {
		accessCount = 0
	}
	return 2.0 - math.Exp2(-float64(accessCount)/sat)
}

func (p Params) relevance(n *store.Node) float64 {
	fn := p.Relevance
	if fn == nil {
		fn = DefaultRelevance
	}
	return fn(n)
}
