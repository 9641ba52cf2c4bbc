package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/okonma/reverie/internal/config"
	"github.com/okonma/reverie/internal/dreamer"
	"github.com/okonma/reverie/internal/query"
	"github.com/okonma/reverie/internal/store"
)

// loadAll is a helper that loads config and opens the database for
// one-shot CLI commands.
func loadAll() (config.Config, *store.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return cfg, nil, fmt.Errorf("open db: %w", err)
	}
	return cfg, db, nil
}

// --- store command ---

var storeContext []string

var storeCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "Store a new memory",
	Long:  "Store a memory node. Context pairs are given as -c key=value.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStore,
}

func runStore(cmd *cobra.Command, args []string) error {
	content := strings.Join(args, " ")

	ctx := map[string]any{}
	for _, pair := range storeContext {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid context pair %q, want key=value", pair)
		}
		ctx[k] = v
	}

	_, db, err := loadAll()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := db.InsertNode(content, store.TypeNormal, ctx, nil)
	if err != nil {
		return err
	}

	fmt.Println(id)
	return nil
}

// --- search / overview commands ---

var searchExhaustive bool

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories",
	Long:  "Search memories on content and context overlap. Use --exhaustive for a relaxed, titles-only sweep.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	q := strings.Join(args, " ")

	cfg, db, err := loadAll()
	if err != nil {
		return err
	}
	defer db.Close()

	engine := queryEngine(db, cfg, priorityParams(cfg))

	if searchExhaustive {
		titles, err := engine.ExhaustiveSearch(q)
		if err != nil {
			return err
		}
		if len(titles) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, t := range titles {
			fmt.Printf("%d. [%s] %s\n   %s\n", i+1, t.Type, t.ID, t.Title)
		}
		return nil
	}

	hits, err := engine.SpecificSearch(q)
	if err != nil {
		return err
	}
	printHits(hits)
	return nil
}

var overviewCmd = &cobra.Command{
	Use:   "overview [topic]",
	Short: "Get a knowledge overview for a topic",
	Long:  "Surface the most synthesized knowledge first: abstract over summary over normal nodes.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOverview,
}

func runOverview(cmd *cobra.Command, args []string) error {
	topic := strings.Join(args, " ")

	cfg, db, err := loadAll()
	if err != nil {
		return err
	}
	defer db.Close()

	engine := queryEngine(db, cfg, priorityParams(cfg))
	hits, err := engine.KnowledgeOverview(topic)
	if err != nil {
		return err
	}
	printHits(hits)
	return nil
}

func printHits(hits []query.Hit) {
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return
	}
	for i, h := range hits {
		fmt.Printf("%d. [%.3f] %s (%s)\n   %s\n", i+1, h.Score, h.ID, h.Type, h.Snippet)
		if len(h.Context) > 0 {
			ctx, _ := json.Marshal(h.Context)
			fmt.Printf("   %s\n", ctx)
		}
	}
}

// --- recall command ---

var recallCmd = &cobra.Command{
	Use:   "recall [id]",
	Short: "Recall a memory by id, with its relationships",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecall,
}

func runRecall(cmd *cobra.Command, args []string) error {
	cfg, db, err := loadAll()
	if err != nil {
		return err
	}
	defer db.Close()

	engine := queryEngine(db, cfg, priorityParams(cfg))
	result, err := engine.Recall(args[0])
	if err != nil {
		return err
	}

	n := result.Node
	fmt.Printf("%s [%s]\n", n.ID, n.Type)
	fmt.Printf("  created:  %s\n", time.UnixMilli(n.CreatedAt).Format(time.RFC3339))
	fmt.Printf("  accessed: %d times, last %s\n", n.AccessCount, time.UnixMilli(n.LastAccessedAt).Format(time.RFC3339))
	fmt.Printf("  priority: %.4f\n", n.Priority)
	if len(n.Context) > 0 {
		ctx, _ := json.Marshal(n.Context)
		fmt.Printf("  context:  %s\n", ctx)
	}
	if len(n.SourceIDs) > 0 {
		fmt.Printf("  sources:  %s\n", strings.Join(n.SourceIDs, ", "))
	}
	fmt.Printf("\n%s\n", n.Content)

	if len(result.Edges) > 0 {
		fmt.Println("\nRelationships:")
		for _, e := range result.Edges {
			fmt.Printf("  %-10s %.3f  %s\n", e.Type, e.Weight, e.NodeID)
		}
	}
	return nil
}

// --- dream command ---

var dreamCmd = &cobra.Command{
	Use:   "dream",
	Short: "Run one consolidation cycle and exit",
	RunE:  runDream,
}

func runDream(cmd *cobra.Command, args []string) error {
	cfg, db, err := loadAll()
	if err != nil {
		return err
	}
	defer db.Close()

	relate, summarize, err := buildOracles(cfg)
	if err != nil {
		return err
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	d := dreamer.New(db, relate, summarize, priorityParams(cfg), dreamerConfig(cfg), log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := d.RunCycle(ctx); err != nil {
		return fmt.Errorf("dream cycle: %w", err)
	}

	nodes, _ := db.NodeCount()
	edges, _ := db.EdgeCount()
	fmt.Printf("cycle complete: %d nodes, %d edges\n", nodes, edges)
	return nil
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	_, db, err := loadAll()
	if err != nil {
		return err
	}
	defer db.Close()

	nodes, err := db.NodeCount()
	if err != nil {
		return err
	}
	edges, err := db.EdgeCount()
	if err != nil {
		return err
	}
	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	fmt.Printf("db:         %s\n", db.Path)
	fmt.Printf("schema:     v%d\n", version)
	fmt.Printf("nodes:      %d\n", nodes)
	fmt.Printf("edges:      %d\n", edges)
	fmt.Printf("graph size: %d\n", nodes+edges)
	return nil
}

func init() {
	storeCmd.Flags().StringArrayVarP(&storeContext, "context", "c", nil, "Context pair key=value (repeatable)")
	searchCmd.Flags().BoolVar(&searchExhaustive, "exhaustive", false, "Relaxed match, titles only")
}
