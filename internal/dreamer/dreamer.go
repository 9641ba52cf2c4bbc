// Package dreamer implements the background consolidation loop: it
// samples node pairs, consults the relatedness oracle, grows the edge
// set, detects dense clusters, and synthesizes summary nodes. The
// dreamer only adds to the graph; it never deletes, and it never
// touches front-end access tracking.
package dreamer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okonma/reverie/internal/oracle"
	"github.com/okonma/reverie/internal/priority"
	"github.com/okonma/reverie/internal/store"
)

// State names one phase of the consolidation cycle.
type State string

const (
	StateIdle          State = "idle"
	StateSampling      State = "sampling"
	StateScoring       State = "scoring"
	StateLinking       State = "linking"
	StateClusterScan   State = "cluster-scan"
	StateSynthesizing  State = "synthesizing"
	StateConsolidating State = "consolidating"
)

// Config tunes the consolidation cycle.
type Config struct {
	// Interval between cycles.
	Interval time.Duration
	// SampleSize is the number of node pairs scored per cycle.
	SampleSize int
	// DiscoveryThreshold is the minimum relatedness score that creates
	// an edge. Below it, nothing happens: absence of an edge is the
	// default state, never a penalty.
	DiscoveryThreshold float64
	// ClusterThreshold is the minimum edge weight for the cluster-scan
	// subgraph.
	ClusterThreshold float64
	// MinClusterSize is the smallest component worth summarizing.
	MinClusterSize int
	// RedundancyOverlap skips clusters already covered by an existing
	// summary whose sources overlap the component at or above this
	// fraction.
	RedundancyOverlap float64
	// MergeSimilarity is the near-duplicate threshold for the
	// consolidation pass.
	MergeSimilarity float64
	// OracleTimeout bounds each oracle call; a timed-out call is
	// abandoned and treated as failure.
	OracleTimeout time.Duration
	// RecentWindow selects the recently-touched nodes the
	// consolidation pass inspects.
	RecentWindow time.Duration
}

// DefaultConfig returns the standard dreamer tuning.
func DefaultConfig() Config {
	return Config{
		Interval:           5 * time.Minute,
		SampleSize:         10,
		DiscoveryThreshold: 0.3,
		ClusterThreshold:   0.8,
		MinClusterSize:     3,
		RedundancyOverlap:  0.5,
		MergeSimilarity:    0.9,
		OracleTimeout:      30 * time.Second,
		RecentWindow:       time.Hour,
	}
}

// Status is a snapshot of the dreamer for health/status endpoints.
type Status struct {
	Running  bool      `json:"running"`
	State    State     `json:"state"`
	Interval string    `json:"interval"`
	LastRun  time.Time `json:"last_run"`
}

// Dreamer runs the repeating consolidation cycle against the store.
type Dreamer struct {
	db        *store.DB
	relate    oracle.Relatedness
	summarize oracle.Summarizer
	prio      priority.Params
	cfg       Config
	log       *zap.Logger
	rng       *rand.Rand

	mu      sync.Mutex
	state   State
	lastRun time.Time
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a dreamer with its oracle dependencies injected.
func New(db *store.DB, relate oracle.Relatedness, summarize oracle.Summarizer, prio priority.Params, cfg Config, log *zap.Logger) *Dreamer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultConfig().SampleSize
	}
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = DefaultConfig().MinClusterSize
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultConfig().OracleTimeout
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultConfig().RecentWindow
	}
	return &Dreamer{
		db:        db,
		relate:    relate,
		summarize: summarize,
		prio:      prio,
		cfg:       cfg,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		state:     StateIdle,
	}
}

// Start launches the background loop. Safe to call once; subsequent
// calls are no-ops until Stop.
func (d *Dreamer) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	d.mu.Unlock()

	go d.loop(ctx)
	d.log.Info("dreamer started", zap.Duration("interval", d.cfg.Interval))
}

// Stop cancels the loop and waits for it to finish. Cancellation takes
// effect between cycle states; an in-flight oracle call is abandoned
// via its timeout.
func (d *Dreamer) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()
	<-done

	d.mu.Lock()
	d.running = false
	d.state = StateIdle
	d.mu.Unlock()
	d.log.Info("dreamer stopped")
}

// Status returns a snapshot of the dreamer state.
func (d *Dreamer) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:  d.running,
		State:    d.state,
		Interval: d.cfg.Interval.String(),
		LastRun:  d.lastRun,
	}
}

// State returns the current cycle phase.
func (d *Dreamer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dreamer) loop(ctx context.Context) {
	defer close(d.done)

	// First cycle runs immediately, then on the interval.
	if err := d.RunCycle(ctx); err != nil && ctx.Err() == nil {
		d.log.Error("dreamer cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.RunCycle(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("dreamer cycle failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunCycle executes one full consolidation pass. Oracle failures are
// scoped to the pair or cluster being processed and never abort the
// cycle; only store-level failures are returned. Cancellation is
// honored between states, never within one.
func (d *Dreamer) RunCycle(ctx context.Context) error {
	defer func() {
		d.setState(StateIdle)
		d.mu.Lock()
		d.lastRun = time.Now()
		d.mu.Unlock()
	}()

	count, err := d.db.NodeCount()
	if err != nil {
		return fmt.Errorf("node count: %w", err)
	}
	if count < 2 {
		d.log.Debug("not enough nodes for a dream cycle", zap.Int("count", count))
		return nil
	}

	d.setState(StateSampling)
	pairs, err := d.samplePairs()
	if err != nil {
		return fmt.Errorf("sampling: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.setState(StateScoring)
	judged := d.scorePairs(ctx, pairs)
	if err := ctx.Err(); err != nil {
		return err
	}

	d.setState(StateLinking)
	if err := d.linkPairs(judged); err != nil {
		return fmt.Errorf("linking: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.setState(StateClusterScan)
	clusters, err := d.clusterScan()
	if err != nil {
		return fmt.Errorf("cluster scan: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.setState(StateSynthesizing)
	if err := d.synthesize(ctx, clusters); err != nil {
		return fmt.Errorf("synthesizing: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.setState(StateConsolidating)
	if err := d.consolidate(); err != nil {
		return fmt.Errorf("consolidating: %w", err)
	}
	if err := d.refreshPriorities(); err != nil {
		return fmt.Errorf("refresh priorities: %w", err)
	}

	return nil
}

func (d *Dreamer) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

type pair struct {
	a, b store.Node
}

type judgedPair struct {
	pair
	rel oracle.Relation
}

// samplePairs draws unique node pairs uniformly, without replacement,
// from all non-abstract nodes. Abstract nodes are excluded from
// pairwise sampling; they still participate in the cluster scan
// through their source links.
func (d *Dreamer) samplePairs() ([]pair, error) {
	nodes, err := d.db.AllNodes()
	if err != nil {
		return nil, err
	}

	candidates := nodes[:0]
	for _, n := range nodes {
		if n.Type != store.TypeAbstract {
			candidates = append(candidates, n)
		}
	}
	n := len(candidates)
	if n < 2 {
		return nil, nil
	}

	want := d.cfg.SampleSize
	max := n * (n - 1) / 2
	if want >= max {
		// The sample covers every pair; enumerate instead of drawing.
		pairs := make([]pair, 0, max)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				pairs = append(pairs, pair{a: candidates[i], b: candidates[j]})
			}
		}
		d.rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		return pairs, nil
	}

	seen := make(map[[2]int]bool, want)
	var pairs []pair
	for attempts := 0; len(pairs) < want && attempts < want*10; attempts++ {
		i, j := d.rng.Intn(n), d.rng.Intn(n)
		if i == j {
			continue
		}
		if i > j {
			i, j = j, i
		}
		key := [2]int{i, j}
		if seen[key] {
			continue
		}
		seen[key] = true
		pairs = append(pairs, pair{a: candidates[i], b: candidates[j]})
	}
	return pairs, nil
}

// scorePairs consults the relatedness oracle for each sampled pair.
// Failures and timeouts are logged and treated as "no relation"; no
// store lock is held while a call is in flight.
func (d *Dreamer) scorePairs(ctx context.Context, pairs []pair) []judgedPair {
	var judged []judgedPair
	for _, p := range pairs {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.OracleTimeout)
		rel, err := d.relate.Relate(callCtx, oracle.View(&p.a), oracle.View(&p.b))
		cancel()
		if err != nil {
			d.log.Warn("relatedness oracle failed",
				zap.String("from", p.a.ID),
				zap.String("to", p.b.ID),
				zap.Error(err))
			continue
		}
		judged = append(judged, judgedPair{pair: p, rel: rel})
	}
	return judged
}

// linkPairs upserts a semantic edge for each pair at or above the
// discovery threshold. Relatedness is symmetric, so the endpoints are
// ordered by id first; repeated discovery of the same pair then always
// lands on the same edge and goes through the store's combine policy.
func (d *Dreamer) linkPairs(judged []judgedPair) error {
	for _, j := range judged {
		if j.rel.Score < d.cfg.DiscoveryThreshold {
			continue
		}
		from, to := j.a.ID, j.b.ID
		if to < from {
			from, to = to, from
		}
		err := d.db.UpsertEdge(from, to, j.rel.Score, store.RelSemantic, store.ByDreamer, j.rel.Confidence)
		if err != nil {
			if store.IsValidation(err) || store.IsNotFound(err) {
				d.log.Warn("skipping invalid discovered edge", zap.Error(err))
				continue
			}
			return err
		}
		d.log.Debug("linked pair",
			zap.String("from", from),
			zap.String("to", to),
			zap.Float64("weight", j.rel.Score))
	}
	return nil
}

// refreshPriorities recomputes and caches the priority score of every
// node. Cached scores only serve ranking hints; recomputation remains
// ground truth.
func (d *Dreamer) refreshPriorities() error {
	nodes, err := d.db.AllNodes()
	if err != nil {
		return err
	}
	now := time.Now()
	for i := range nodes {
		if err := d.db.PersistPriority(nodes[i].ID, d.prio.Score(&nodes[i], now)); err != nil {
			return err
		}
	}
	return nil
}
