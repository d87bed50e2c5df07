// Package main is the Lectern CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lectern-search/lectern/internal/assemble"
	"github.com/lectern-search/lectern/internal/bookid"
	"github.com/lectern-search/lectern/internal/chunker"
	"github.com/lectern-search/lectern/internal/config"
	"github.com/lectern-search/lectern/internal/embedding"
	"github.com/lectern-search/lectern/internal/extract"
	"github.com/lectern-search/lectern/internal/generate"
	"github.com/lectern-search/lectern/internal/ingest"
	"github.com/lectern-search/lectern/internal/lexical"
	"github.com/lectern-search/lectern/internal/retriever"
	"github.com/lectern-search/lectern/internal/server"
	"github.com/lectern-search/lectern/internal/store"
	"github.com/lectern-search/lectern/internal/vector"
	"github.com/lectern-search/lectern/internal/watcher"
	"github.com/lectern-search/lectern/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/lectern/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory wins (for development). A missing default config is
// not an error; built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				return config.Load(fallback)
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			var cfg config.Config
			config.ApplyDefaults(&cfg)
			return &cfg, nil
		}
	}
	return config.Load(path)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "ingest":
		runIngest()
	case "sync":
		runSync()
	case "delete":
		runDelete()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("lectern version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// components holds the initialized service graph.
type components struct {
	Store     store.Store
	Embedder  embedding.Embedder
	Manager   *vector.Manager
	Ingestor  *ingest.Ingestor
	Retriever *retriever.Retriever
	Assembler *assemble.Assembler
	Generator generate.Generator
}

func (c *components) Close() {
	if c.Generator != nil {
		_ = c.Generator.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	// Without an API key the deterministic mock embedder keeps every command
	// usable offline, at the cost of meaningless similarity scores.
	var embedder embedding.Embedder
	openaiEmbedder, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKeyEnv:  cfg.Embedding.APIKeyEnv,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		Timeout:    cfg.Embedding.Timeout(),
	}, logger)
	if err != nil {
		logger.Warn("embedding service unavailable, using mock embedder", zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = openaiEmbedder
	}
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}

	var generator generate.Generator
	openaiGenerator, err := generate.NewOpenAIGenerator(generate.OpenAIConfig{
		BaseURL:   cfg.Generation.BaseURL,
		APIKeyEnv: cfg.Generation.APIKeyEnv,
		Model:     cfg.Generation.Model,
		Timeout:   cfg.Generation.Timeout(),
	}, logger)
	if err != nil {
		logger.Warn("generation service unavailable, using mock generator", zap.Error(err))
		generator = generate.NewMockGenerator()
	} else {
		generator = openaiGenerator
	}

	mgr := vector.NewManager(st, cfg.Storage.VectorIndexPath, logger)
	if err := mgr.LoadPersisted(context.Background()); err != nil {
		logger.Warn("could not load persisted vector index", zap.Error(err))
	}

	ck := chunker.New(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	ing := ingest.New(st, embedder, extract.NewExtractor(), ck, logger)

	var scorer *lexical.Scorer
	if cfg.Retrieval.LexicalBoost > 0 {
		scorer = lexical.NewScorer()
	}
	ret := retriever.New(embedder, mgr, st, scorer, retriever.Options{
		TopK:         cfg.Retrieval.TopK,
		Overfetch:    cfg.Retrieval.Overfetch,
		MinScore:     cfg.Retrieval.MinScore,
		PageGap:      cfg.Retrieval.PageGap,
		LexicalBoost: cfg.Retrieval.LexicalBoost,
	}, logger)

	return &components{
		Store:     st,
		Embedder:  embedder,
		Manager:   mgr,
		Ingestor:  ing,
		Retriever: ret,
		Assembler: assemble.New(cfg.Generation.MaxContextChars),
		Generator: generator,
	}, nil
}

func setup(configPath string, debugFlag bool) (*config.Config, *components, *zap.Logger) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	comp, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}
	return cfg, comp, logger
}

// ensureIndex rebuilds the vector index when it is stale so read commands work
// against the current corpus.
func ensureIndex(ctx context.Context, comp *components, logger *zap.Logger) {
	stale, err := comp.Manager.IsStale(ctx)
	if err != nil {
		logger.Fatal("failed to check index", zap.Error(err))
	}
	if !stale {
		return
	}
	if err := comp.Manager.Rebuild(ctx); err != nil && !errors.Is(err, vector.ErrEmptyCorpus) {
		logger.Fatal("failed to rebuild index", zap.Error(err))
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", true, "watch library directories for changes")
	_ = fs.Parse(os.Args[2:])

	cfg, comp, logger := setup(*configPath, *debug)
	defer comp.Close()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bring the collection up to date with the library on disk before serving.
	if len(cfg.Library.Directories) > 0 {
		stats, err := comp.Ingestor.Sync(ctx, cfg.Library.Directories)
		if err != nil {
			logger.Fatal("library sync failed", zap.Error(err))
		}
		logger.Info("library synced",
			zap.Int("ingested", stats.Ingested), zap.Int("skipped", stats.Skipped),
			zap.Int("deleted", stats.Deleted), zap.Int("failed", stats.Failed))
	}
	ensureIndex(ctx, comp, logger)

	var w *watcher.Watcher
	if *watch && len(cfg.Library.Directories) > 0 {
		w = watcher.New(cfg.Library.Directories, cfg.Library.Extensions,
			func(path string) {
				if _, _, err := comp.Ingestor.IngestFile(ctx, path); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
					return
				}
				if err := comp.Manager.Rebuild(ctx); err != nil {
					logger.Warn("rebuild after watch ingest failed", zap.Error(err))
				}
			},
			func(path string) {
				abs, err := filepath.Abs(path)
				if err != nil {
					return
				}
				if err := comp.Ingestor.Delete(ctx, bookid.FromPath(abs)); err != nil {
					logger.Warn("watch delete failed", zap.String("path", path), zap.Error(err))
					return
				}
				if err := comp.Manager.Rebuild(ctx); err != nil && !errors.Is(err, vector.ErrEmptyCorpus) {
					logger.Warn("rebuild after watch delete failed", zap.Error(err))
				}
			},
			logger)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(comp.Retriever, comp.Assembler, comp.Generator,
		comp.Ingestor, comp.Store, comp.Manager, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: lectern ask [flags] <question>")
		os.Exit(1)
	}

	_, comp, logger := setup(*configPath, false)
	defer comp.Close()
	defer logger.Sync()

	ctx := context.Background()
	ensureIndex(ctx, comp, logger)

	results, err := comp.Retriever.Retrieve(ctx, question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieval failed: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No relevant passages found in the collection.")
		return
	}

	req := comp.Assembler.Assemble(question, results)
	answer, err := comp.Generator.Generate(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(answer)
	fmt.Println("\nSources:")
	for _, res := range results {
		fmt.Printf("  [%d] %s, %s (score %.3f)\n",
			res.Rank, res.Citation.BookTitle, res.Citation.PageRange(), res.Score)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: lectern search [flags] <question>")
		os.Exit(1)
	}

	_, comp, logger := setup(*configPath, false)
	defer comp.Close()
	defer logger.Sync()

	ctx := context.Background()
	ensureIndex(ctx, comp, logger)

	results, err := comp.Retriever.Retrieve(ctx, question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No relevant passages found in the collection.")
		return
	}
	for _, res := range results {
		fmt.Printf("[%d] %s, %s (score %.3f)\n", res.Rank, res.Citation.BookTitle,
			res.Citation.PageRange(), res.Score)
		fmt.Printf("    %s\n\n", utils.Truncate(res.Text, 300))
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: lectern ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	_, comp, logger := setup(*configPath, false)
	defer comp.Close()
	defer logger.Sync()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		stats, err := comp.Ingestor.IngestDir(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d, skipped %d, failed %d from %s\n",
			stats.Ingested, stats.Skipped, stats.Failed, path)
	} else {
		book, ingested, err := comp.Ingestor.IngestFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			os.Exit(1)
		}
		if ingested {
			fmt.Printf("Book ingested: %s (%s)\n", book.Title, book.ID)
		} else {
			fmt.Printf("Book unchanged: %s (%s)\n", book.Title, book.ID)
		}
	}
	ensureIndex(ctx, comp, logger)
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, comp, logger := setup(*configPath, false)
	defer comp.Close()
	defer logger.Sync()

	dirs := cfg.Library.Directories
	if fs.NArg() > 0 {
		dirs = fs.Args()
	}
	if len(dirs) == 0 {
		fmt.Println("No library directories configured; pass one or set library.directories")
		os.Exit(1)
	}

	ctx := context.Background()
	stats, err := comp.Ingestor.Sync(ctx, dirs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		os.Exit(1)
	}
	ensureIndex(ctx, comp, logger)
	fmt.Printf("Sync complete: %d ingested, %d unchanged, %d deleted, %d failed\n",
		stats.Ingested, stats.Skipped, stats.Deleted, stats.Failed)
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: lectern delete [flags] <book-id>")
		os.Exit(1)
	}
	bookID := fs.Arg(0)

	_, comp, logger := setup(*configPath, false)
	defer comp.Close()
	defer logger.Sync()

	if err := comp.Ingestor.Delete(context.Background(), bookID); err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Book deleted: %s\n", bookID)
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	_, comp, logger := setup(*configPath, false)
	defer comp.Close()
	defer logger.Sync()

	if err := comp.Manager.Rebuild(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Index rebuilt: %d vectors at revision %d\n",
		comp.Manager.Size(), comp.Manager.Revision())
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, comp, logger := setup(*configPath, false)
	defer comp.Close()
	defer logger.Sync()

	ctx := context.Background()
	books, err := comp.Store.CountBooks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	chunks, err := comp.Store.CountChunks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	revision, err := comp.Store.Revision(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	stale, err := comp.Manager.IsStale(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("books:            %d\n", books)
	fmt.Printf("chunks:           %d\n", chunks)
	fmt.Printf("corpus_revision:  %d\n", revision)
	fmt.Printf("index_size:       %d\n", comp.Manager.Size())
	fmt.Printf("index_revision:   %d\n", comp.Manager.Revision())
	fmt.Printf("index_stale:      %t\n", stale)
	fmt.Printf("embedding_dims:   %d\n", cfg.Embedding.Dimensions)
	fmt.Printf("database_path:    %s\n", cfg.Storage.DatabasePath)
}

func printUsage() {
	fmt.Println(`lectern - Question answering over a private book collection

Usage:
  lectern server [flags]            Start the HTTP server
  lectern ask [flags] <question>    Ask a question, get a cited answer
  lectern search [flags] <question> Retrieve passages without generation
  lectern ingest [flags] <path>     Ingest a book file or directory
  lectern sync [flags] [dirs...]    Reconcile the store with library dirs
  lectern delete [flags] <book-id>  Delete a book
  lectern rebuild [flags]           Rebuild the vector index
  lectern status [flags]            Show collection and index status
  lectern version                   Show version
  lectern help                      Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/lectern/config.yaml;
                     config.yaml in the current directory wins when present)

Server Flags:
  --debug            Enable debug logging
  --watch            Watch library directories for changes (default: true)

Examples:
  lectern ingest ~/books
  lectern ask "who does Alice follow down the hole?"
  lectern search "rabbit hole"
  lectern server --debug`)
}
