package dreamer

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/okonma/reverie/internal/oracle"
	"github.com/okonma/reverie/internal/store"
)

// cluster is a connected component of the strong-edge subgraph.
type cluster struct {
	ids       []string
	avgWeight float64
}

// clusterScan finds connected components among edges at or above the
// cluster threshold, keeping components that are large enough and not
// already covered by an existing summary node.
func (d *Dreamer) clusterScan() ([]cluster, error) {
	edges, err := d.db.EdgesAbove(d.cfg.ClusterThreshold)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	uf := newUnionFind()
	weightSum := map[string]float64{}
	weightCount := map[string]int{}
	for _, e := range edges {
		uf.union(e.FromID, e.ToID)
	}
	for _, e := range edges {
		root := uf.find(e.FromID)
		weightSum[root] += e.Weight
		weightCount[root]++
	}

	components := map[string][]string{}
	for id := range uf.parent {
		root := uf.find(id)
		components[root] = append(components[root], id)
	}

	covered, err := d.coveredSets()
	if err != nil {
		return nil, err
	}

	var clusters []cluster
	for root, ids := range components {
		if len(ids) < d.cfg.MinClusterSize {
			continue
		}
		if d.isCovered(ids, covered) {
			continue
		}
		sort.Strings(ids)
		avg := weightSum[root] / float64(weightCount[root])
		clusters = append(clusters, cluster{ids: ids, avgWeight: avg})
	}

	// Deterministic order for logging and tests.
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ids[0] < clusters[j].ids[0] })
	return clusters, nil
}

// coveredSets returns the source-id set of every existing summary and
// abstract node.
func (d *Dreamer) coveredSets() ([]map[string]bool, error) {
	var sets []map[string]bool
	for _, t := range []string{store.TypeSummary, store.TypeAbstract} {
		nodes, err := d.db.NodesByType(t)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			set := make(map[string]bool, len(n.SourceIDs))
			for _, id := range n.SourceIDs {
				set[id] = true
			}
			sets = append(sets, set)
		}
	}
	return sets, nil
}

// isCovered reports whether an existing summary's sources overlap the
// component at or above the redundancy threshold.
func (d *Dreamer) isCovered(ids []string, covered []map[string]bool) bool {
	for _, set := range covered {
		overlap := 0
		for _, id := range ids {
			if set[id] {
				overlap++
			}
		}
		if float64(overlap)/float64(len(ids)) >= d.cfg.RedundancyOverlap {
			return true
		}
	}
	return false
}

// synthesize creates one summary node per qualifying cluster: the
// summarization oracle produces the content, the new node records the
// members as its sources, and an outgoing edge links it to each
// member. A cluster made entirely of synthesized nodes yields an
// abstract node. Oracle failure skips just that cluster.
func (d *Dreamer) synthesize(ctx context.Context, clusters []cluster) error {
	for _, c := range clusters {
		var members []store.Node
		allSynthesized := true
		missing := false
		for _, id := range c.ids {
			n, err := d.db.GetNode(id)
			if err != nil {
				if store.IsNotFound(err) {
					missing = true
					break
				}
				return err
			}
			if n.Type == store.TypeNormal {
				allSynthesized = false
			}
			members = append(members, *n)
		}
		if missing {
			continue
		}

		views := make([]oracle.NodeView, len(members))
		for i := range members {
			views[i] = oracle.View(&members[i])
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.OracleTimeout)
		content, err := d.summarize.Summarize(callCtx, views)
		cancel()
		if err != nil {
			d.log.Warn("summarization oracle failed",
				zap.Int("cluster_size", len(c.ids)),
				zap.Error(err))
			continue
		}

		nodeType := store.TypeSummary
		if allSynthesized {
			nodeType = store.TypeAbstract
		}

		nodeCtx := map[string]any{
			"source":           "dreamer",
			"summarized_count": len(c.ids),
		}
		id, err := d.db.InsertNode(content, nodeType, nodeCtx, c.ids)
		if err != nil {
			return err
		}

		weight := c.avgWeight
		if weight <= 0 || weight > 1 {
			weight = 0.9
		}
		for _, memberID := range c.ids {
			// Edges only run from the synthesized node toward its
			// sources, keeping the summary layer acyclic.
			if err := d.db.UpsertEdge(id, memberID, weight, store.RelReference, store.ByDreamer, 0.9); err != nil {
				return err
			}
		}

		d.log.Info("synthesized cluster",
			zap.String("id", id),
			zap.String("type", nodeType),
			zap.Int("members", len(c.ids)),
			zap.Float64("weight", weight))
	}
	return nil
}

// unionFind is a plain disjoint-set over node ids.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}}
}

func (u *unionFind) find(id string) string {
	p, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		return id
	}
	if p == id {
		return id
	}
	root := u.find(p)
	u.parent[id] = root
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}
