package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"ecm/internal/archive"
	"ecm/internal/config"
	"ecm/internal/embed"
	"ecm/internal/errs"
	"ecm/internal/ingest"
	"ecm/internal/logging"
	"ecm/internal/maintenance"
	"ecm/internal/retrieval"
	"ecm/internal/store"
)

var successColor = color.New(color.FgGreen)

// app bundles the stores and embedder every subcommand but uninstall
// needs, opened fresh per invocation since this is a one-shot CLI, not
// a long-lived server.
type app struct {
	store    *store.Store
	vectors  *store.VectorStore
	embedder embed.Embedder
}

func newApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*app, error) {
	s, err := store.Open(ctx, cfg.Storage.DBPath, log)
	if err != nil {
		return nil, err
	}
	vs, err := store.OpenVectorStore(cfg.Storage.VectorPath)
	if err != nil {
		s.Close()
		return nil, err
	}
	var base embed.Embedder = embed.NewHashEmbedder(cfg.Embedding.Dimensions)
	return &app{
		store:    s,
		vectors:  vs,
		embedder: embed.NewResilient(base, cfg.Embedding, log),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}

func cmdIngest(ctx context.Context, cfg *config.Config, log logging.Logger, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errs.InputError("ingest: a transcript path is required")
	}
	path := fs.Arg(0)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	p := ingest.NewPipeline(a.store, a.vectors, a.embedder, cfg, nil, log)
	result, err := p.IngestFile(ctx, path)
	if err != nil {
		return err
	}
	if result.Skipped {
		fmt.Printf("ingest: %s already covered by its checkpoint, nothing to do\n", path)
		return nil
	}
	successColor.Printf("ingest: %s — session %s: %d chunks, %d edges added\n", path, result.SessionID, result.ChunksAdded, result.EdgesAdded)
	return nil
}

func cmdBatchIngest(ctx context.Context, cfg *config.Config, log logging.Logger, args []string) error {
	fs := flag.NewFlagSet("batch-ingest", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errs.InputError("batch-ingest: a transcript directory is required")
	}
	dir := fs.Arg(0)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	p := ingest.NewPipeline(a.store, a.vectors, a.embedder, cfg, nil, log)
	result, err := p.IngestDirectory(ctx, dir)
	if err != nil {
		return err
	}

	chunksAdded, edgesAdded := 0, 0
	for _, f := range result.Files {
		chunksAdded += f.ChunksAdded
		edgesAdded += f.EdgesAdded
	}
	fmt.Printf("batch-ingest: %d files processed, %d chunks, %d edges added, %d failures\n",
		len(result.Files), chunksAdded, edgesAdded, len(result.Failures))
	for _, f := range result.Failures {
		fmt.Fprintf(os.Stderr, "  failed: %s: %v\n", f.Path, f.Err)
	}
	return nil
}

func cmdSearch(ctx context.Context, cfg *config.Config, log logging.Logger, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	project := fs.String("project", "", "comma-separated project slugs to restrict the search to")
	k := fs.Int("k", 0, "number of results to return (defaults to the configured retrieval.k)")
	fs.Parse(args)
	var words []string
	for fs.NArg() > 0 {
		words = append(words, fs.Arg(0))
		fs.Parse(fs.Args()[1:]) // flags may also follow query words
	}
	if len(words) < 1 {
		return errs.InputError("search: a query is required")
	}
	query := strings.Join(words, " ")

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var projects []string
	if *project != "" {
		projects = strings.Split(*project, ",")
	}

	engine := retrieval.NewEngine(a.store, a.vectors, a.embedder, cfg.Retrieval, cfg.Decay, log)
	resp := engine.Search(ctx, query, *k, projects, time.Now().UTC())
	if resp.Degraded {
		fmt.Fprintln(os.Stderr, "search: degraded result — a pipeline stage failed, see logs")
	}
	if len(resp.Hits) == 0 {
		fmt.Println("search: no results")
		return nil
	}
	for i, hit := range resp.Hits {
		chunk, err := a.store.GetChunk(ctx, hit.ChunkID)
		if err != nil {
			fmt.Printf("%d. %s (score %.4f) — chunk unavailable: %v\n", i+1, hit.ChunkID, hit.Score, err)
			continue
		}
		fmt.Printf("%d. [%s] score=%.4f session=%s\n    %s\n", i+1, chunk.Role, hit.Score, chunk.SessionID, truncate(chunk.Text, 200))
	}
	return nil
}

func cmdRecluster(ctx context.Context, cfg *config.Config, log logging.Logger, args []string) error {
	fs := flag.NewFlagSet("recluster", flag.ExitOnError)
	minSize := fs.Int("min-size", cfg.Clustering.MinClusterSize, "minimum cluster size")
	fs.Parse(args)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	clCfg := cfg.Clustering
	clCfg.MinClusterSize = *minSize
	runner := maintenance.NewRunner(a.store, a.vectors, cfg.Maintenance, clCfg, log)
	result := runner.UpdateClusters(ctx)
	if !result.Success {
		return errs.StorageError(errors.New(result.Message), "recluster")
	}
	fmt.Printf("recluster: %s %v\n", result.Message, result.Details)
	return nil
}

func cmdStats(ctx context.Context, cfg *config.Config, log logging.Logger, _ []string) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	chunkIDs, err := a.store.AllChunkIDs(ctx)
	if err != nil {
		return err
	}
	edges, err := a.store.AllEdges(ctx)
	if err != nil {
		return err
	}
	clusters, err := a.store.AllClusters(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("chunks:   %d\n", len(chunkIDs))
	fmt.Printf("edges:    %d\n", len(edges))
	fmt.Printf("clusters: %d\n", len(clusters))
	fmt.Printf("vectors:  %d\n", a.vectors.Count())
	return nil
}

func cmdHealth(ctx context.Context, cfg *config.Config, log logging.Logger, _ []string) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.embedder.HealthCheck(ctx); err != nil {
		return errs.EmbedError(err, false, "health: embedder unavailable")
	}
	if _, err := a.store.AllChunkIDs(ctx); err != nil {
		return err
	}
	successColor.Println("ok")
	return nil
}

func cmdExport(ctx context.Context, cfg *config.Config, log logging.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("output", "", "output archive path")
	noEncrypt := fs.Bool("no-encrypt", false, "write a plaintext archive instead of an encrypted one")
	fs.Parse(args)
	if *output == "" {
		return errs.InputError("export: --output is required")
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var password string
	if !*noEncrypt {
		password, err = resolvePassword("Archive password (leave blank for a plaintext archive): ")
		if err != nil {
			return err
		}
	}

	f, err := os.Create(*output)
	if err != nil {
		return errs.InputError("export: creating %s: %v", *output, err)
	}
	defer f.Close()

	if err := archive.Export(ctx, a.store, a.vectors, f, password); err != nil {
		return err
	}
	successColor.Printf("export: wrote %s\n", *output)
	return nil
}

func cmdImport(ctx context.Context, cfg *config.Config, log logging.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	merge := fs.Bool("merge", false, "merge into existing data instead of replacing it")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errs.InputError("import: an archive file is required")
	}
	path := fs.Arg(0)
	fs.Parse(fs.Args()[1:]) // flags may also follow the archive path

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(path)
	if err != nil {
		return errs.InputError("import: opening %s: %v", path, err)
	}
	defer f.Close()

	password, err := resolvePassword("Archive password (leave blank if the archive isn't encrypted): ")
	if err != nil {
		return err
	}

	summary, err := archive.Import(ctx, a.store, a.vectors, f, password, *merge)
	if err != nil {
		return err
	}
	if summary.SchemaMismatch {
		fmt.Fprintln(os.Stderr, "import: warning — archive schema checksum differs from this build's schema")
	}
	successColor.Printf("import: %d chunks, %d edges, %d clusters, %d vectors restored\n",
		summary.ChunksAdded, summary.EdgesAdded, summary.ClustersAdded, summary.VectorsAdded)
	return nil
}

func cmdUninstall(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ExitOnError)
	force := fs.Bool("force", false, "actually remove the data; without it uninstall only reports how many paths it would remove")
	keepData := fs.Bool("keep-data", false, "leave the database and vector store on disk")
	dryRun := fs.Bool("dry-run", false, "print what would be removed without removing it")
	fs.Parse(args)

	var targets []string
	if !*keepData {
		targets = []string{
			cfg.Storage.DBPath,
			cfg.Storage.DBPath + "-wal",
			cfg.Storage.DBPath + "-shm",
			cfg.Storage.VectorPath,
		}
	}

	if *dryRun {
		if len(targets) == 0 {
			fmt.Println("uninstall: --keep-data set, nothing would be removed")
			return nil
		}
		for _, t := range targets {
			fmt.Printf("would remove %s\n", t)
		}
		return nil
	}

	if len(targets) == 0 {
		fmt.Println("uninstall: --keep-data set, nothing removed")
		return nil
	}

	if !*force {
		fmt.Printf("uninstall: this permanently removes %d path(s); re-run with --force to proceed\n", len(targets))
		return nil
	}

	for _, t := range targets {
		if err := os.RemoveAll(t); err != nil && !os.IsNotExist(err) {
			return errs.StorageError(err, "uninstall: removing %s", t)
		}
	}
	fmt.Println("uninstall: database and vector store removed")
	return nil
}

// resolvePassword reads ECM_EXPORT_PASSWORD if set, otherwise prompts on
// an interactive terminal. A blank answer is a deliberate choice to
// skip encryption (export) or a plaintext archive (import), not an
// error.
func resolvePassword(prompt string) (string, error) {
	if pw := os.Getenv("ECM_EXPORT_PASSWORD"); pw != "" {
		return pw, nil
	}
	if !isInteractive() {
		return "", nil
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	fmt.Fprintln(os.Stderr)
	if err != nil && err.Error() != "EOF" {
		return "", errs.InputError("reading password: %v", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func isInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
