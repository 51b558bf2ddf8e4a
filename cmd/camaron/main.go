package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"camaron/internal/config"
	"camaron/internal/rag"
	"camaron/internal/rag/embed"
	"camaron/internal/rag/store"
	"camaron/internal/scheduler"
	"camaron/internal/seed"
	"camaron/internal/server"
	"camaron/internal/version"
)

var (
	cfgFile string
	verbose bool
	port    int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "camaron",
	Short: "Camaron - retrieval index for the shrimp quoting bot",
	Long: `Camaron is the retrieval service behind the shrimp-exporter quoting
bot: it indexes price sheets, FAQs, and past conversations, and answers
similarity queries that ground the bot's replies.

Run without a subcommand to start the HTTP server.`,
	Version: version.Full(),
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the retrieval HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var seedClearFirst bool
var seedCorpusFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Index the starter corpus (built-in FAQs, or a YAML corpus file)",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if !svc.Available() {
			return fmt.Errorf("embedding provider not configured; set OPENAI_API_KEY")
		}

		ctx := cmd.Context()
		if seedClearFirst {
			log.Printf("Clearing existing index")
			if err := svc.Clear(ctx); err != nil {
				return fmt.Errorf("clear index: %w", err)
			}
		}

		corpus := seed.Builtin()
		if seedCorpusFile != "" {
			corpus, err = seed.LoadFile(seedCorpusFile)
			if err != nil {
				return err
			}
		}

		indexed := seed.Apply(ctx, svc, corpus)
		fmt.Printf("Indexed %d documents (%d total in index)\n",
			indexed, svc.Stats().TotalDocuments)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the sources directory once and index new or changed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.SourcesDir == "" {
			return fmt.Errorf("no sources_dir configured")
		}

		svc, cleanup, err := newServiceWith(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := rag.NewIndexer(svc, cfg.SourcesDir).IndexNow(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Scanned %d files: %d indexed, %d skipped, %d removed in %s\n",
			result.FilesScanned, result.FilesIndexed, result.FilesSkipped,
			result.FilesRemoved, result.Duration.Round(time.Millisecond))
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", e)
		}
		return nil
	},
}

var queryTopK int
var queryType string
var queryContext bool

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a similarity query against the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		if queryContext {
			block, err := svc.RetrieveContext(ctx, args[0], queryTopK, 0)
			if err != nil {
				return err
			}
			fmt.Println(block)
			return nil
		}

		matches, err := svc.Retrieve(ctx, args[0], rag.QueryOptions{
			TopK: queryTopK,
			Type: queryType,
		})
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, m := range matches {
			fmt.Printf("%.4f  [%s]  %s  %s\n", m.Similarity, m.Metadata.Type, m.ID, m.Content)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		data, err := json.MarshalIndent(svc.Stats(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Camaron %s\n", version.Full())
		buildInfo := version.GetBuildInfo()

		if buildInfo.GitCommit != "unknown" {
			fmt.Printf("Git commit: %s\n", buildInfo.GitCommit)
		}
		if buildInfo.BuildDate != "unknown" {
			fmt.Printf("Build date: %s\n", buildInfo.BuildDate)
		}
		fmt.Printf("Go version: %s\n", buildInfo.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (overrides config)")

	seedCmd.Flags().BoolVar(&seedClearFirst, "clear-first", false, "clear the index before seeding")
	seedCmd.Flags().StringVar(&seedCorpusFile, "corpus", "", "YAML corpus file (defaults to built-in FAQs)")

	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (defaults to config)")
	queryCmd.Flags().StringVarP(&queryType, "type", "t", "", "filter by document type")
	queryCmd.Flags().BoolVar(&queryContext, "context", false, "print a formatted context block instead of matches")

	rootCmd.AddCommand(serverCmd, seedCmd, indexCmd, queryCmd, statsCmd, versionCmd)

	// If no command is specified, default to server
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}
}

// newService builds the retrieval service from the config file.
func newService() (*rag.Service, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newServiceWith(cfg)
}

func newServiceWith(cfg *config.Config) (*rag.Service, func(), error) {
	if verbose {
		cfg.Debug.VerboseLogging = true
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	provider := embed.NewOpenAI(embed.OpenAIConfig{
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxChars:   cfg.Embedding.MaxChars,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})

	var st store.Store
	var err error
	switch cfg.Storage.Backend {
	case "sqlite":
		st, err = store.NewSQLite(cfg.StoragePath())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
	default:
		st, err = store.NewFile(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
	}
	return buildService(cfg, provider, st)
}

func buildService(cfg *config.Config, provider embed.Provider, st store.Store) (*rag.Service, func(), error) {
	svc, err := rag.New(rag.Config{
		Provider:      provider,
		Store:         st,
		MaxChars:      cfg.Embedding.MaxChars,
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		Verbose:       cfg.Debug.VerboseLogging,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return svc, func() { st.Close() }, nil
}

func runServer() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port != 0 {
		cfg.Port = port
	}

	svc, cleanup, err := newServiceWith(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if !svc.Available() {
		log.Printf("WARNING: embedding provider not configured; indexing and queries will fail until OPENAI_API_KEY is set")
	}

	var sched *scheduler.Scheduler
	if cfg.SourcesDir != "" {
		sched = scheduler.New(rag.NewIndexer(svc, cfg.SourcesDir))
		if err := sched.Start(cfg.ReindexSchedule); err != nil {
			return err
		}
		defer sched.Stop()
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	log.Printf("Starting Camaron on port %d", cfg.Port)
	if err := server.New(svc, sched, cfg.Port).Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Server stopped gracefully")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
