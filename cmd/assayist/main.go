// Package main provides the assayist CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lslebodn/assayist/internal/api"
	"github.com/lslebodn/assayist/internal/config"
	"github.com/lslebodn/assayist/internal/fixture"
	"github.com/lslebodn/assayist/internal/sqlitestore"
	"github.com/lslebodn/assayist/query"
	"github.com/lslebodn/assayist/store"
)

// Version is the current assayist CLI version
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "assayist",
	Short: "Assayist - software supply-chain provenance queries",
	Long: `Assayist answers provenance questions over a graph of components, source
locations, builds and artifacts: the version history of a component, the
sources of the content embedded in a build, and which container builds are
affected by a set of changed or vulnerable sources.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var historyCmd = &cobra.Command{
	Use:   "history <name> <type> <version>",
	Short: "Show a component version and every version it supersedes",
	Example: `  assayist history golang generic 1.9.5
  assayist history golang generic 1.9.5 -o yaml`,
	Args: cobra.ExactArgs(3),
	RunE: runHistory,
}

var contentSourcesCmd = &cobra.Command{
	Use:   "content-sources <build-id>",
	Short: "Show the internal and upstream sources of a build's embedded content",
	Args:  cobra.ExactArgs(1),
	RunE:  runContentSources,
}

var impactCmd = &cobra.Command{
	Use:   "impact [url...]",
	Short: "List container builds affected by the given source locations",
	Long: `List container builds affected by the given source locations.

Source locations are given as arguments or read from a YAML or JSON file of
{url: ...} records with --from. Urls that are not in the graph are ignored.

Examples:
  assayist impact git://pkgs.example.com/rpms/golang#abc123
  assayist impact --from vulnerable.yaml --explain`,
	RunE: runImpact,
}

var loadCmd = &cobra.Command{
	Use:   "load <pattern>...",
	Short: "Load fixture documents into the graph database",
	Long: `Load fixture documents into the graph database.

Patterns support ** globs. Files ending in .zst are zstd-decompressed.
Loading is idempotent: nodes and edges that already exist are kept.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve provenance queries over HTTP",
	RunE:  runServe,
}

var (
	dbFlag              string
	outputFlag          string
	maxHopsFlag         int
	embedsExpansionFlag bool
	debugFlag           bool
	impactFromFlag      string
	impactExplainFlag   bool
	listenFlag          string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Path to the graph database (default: $ASSAYIST_DB or ./assayist.db)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "json", "Output format: json or yaml")
	rootCmd.PersistentFlags().IntVar(&maxHopsFlag, "max-hops", 0, "Bound on variable-length walks (default: $ASSAYIST_MAX_HOPS or 256)")
	rootCmd.PersistentFlags().BoolVar(&embedsExpansionFlag, "embeds-expansion", false, "Follow source-level EMBEDS edges in impact queries")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	impactCmd.Flags().StringVar(&impactFromFlag, "from", "", "Read source locations from a YAML or JSON file")
	impactCmd.Flags().BoolVar(&impactExplainFlag, "explain", false, "Break the result down by propagation path")

	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "Address to listen on (default: $ASSAYIST_LISTEN or :7450)")

	rootCmd.AddCommand(historyCmd, contentSourcesCmd, impactCmd, loadCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges env configuration with command-line flags.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.FromArgs(dbFlag, listenFlag)
	flags := cmd.Flags()
	if flags.Changed("max-hops") {
		cfg.MaxHops = maxHopsFlag
	}
	if flags.Changed("embeds-expansion") {
		cfg.EmbedsExpansion = embedsExpansionFlag
	}
	if debugFlag {
		cfg.Debug = true
	}
	if cfg.Version == "" {
		cfg.Version = Version
	}
	return cfg
}

func openDB(cfg *config.Config, log *logrus.Logger, mustExist bool) (*sqlitestore.DB, error) {
	if mustExist {
		if _, err := os.Stat(cfg.DB); err != nil {
			return nil, fmt.Errorf("database %s not found (run 'assayist load' first): %w", cfg.DB, err)
		}
	}
	db, err := sqlitestore.Open(cfg.DB, sqlitestore.Options{CacheSize: cfg.CacheSize, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func newService(st store.Store, cfg *config.Config, log *logrus.Logger) *query.Service {
	return query.New(st, query.Options{
		Logger:          log,
		MaxHops:         cfg.MaxHops,
		EmbedsExpansion: cfg.EmbedsExpansion,
	})
}

// withQuery opens the database and runs fn with a service and a context
// bounded by the configured query timeout.
func withQuery(cmd *cobra.Command, fn func(ctx context.Context, svc *query.Service) (any, error)) error {
	if err := checkOutput(); err != nil {
		return err
	}
	cfg := loadConfig(cmd)
	log := cfg.Logger()

	db, err := openDB(cfg, log, true)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.QueryTimeout)
		defer cancel()
	}

	result, err := fn(ctx, newService(db, cfg, log))
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), result)
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withQuery(cmd, func(ctx context.Context, svc *query.Service) (any, error) {
		return svc.VersionHistory(ctx, args[0], args[1], args[2])
	})
}

func runContentSources(cmd *cobra.Command, args []string) error {
	return withQuery(cmd, func(ctx context.Context, svc *query.Service) (any, error) {
		return svc.ContentSources(ctx, args[0])
	})
}

func runImpact(cmd *cobra.Command, args []string) error {
	locations := make([]query.SourceLocationInput, 0, len(args))
	for _, u := range args {
		locations = append(locations, query.SourceLocationInput{URL: u})
	}
	if impactFromFlag != "" {
		fromFile, err := readLocations(impactFromFlag)
		if err != nil {
			return err
		}
		locations = append(locations, fromFile...)
	}

	return withQuery(cmd, func(ctx context.Context, svc *query.Service) (any, error) {
		if impactExplainFlag {
			return svc.Impact(ctx, locations)
		}
		return svc.ImpactedContainerBuilds(ctx, locations)
	})
}

// readLocations reads a list of {url: ...} records. YAML is a superset of
// JSON, so one decoder handles both.
func readLocations(path string) ([]query.SourceLocationInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source locations: %w", err)
	}
	var locations []query.SourceLocationInput
	if err := yaml.Unmarshal(data, &locations); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", query.ErrInvalidInput, path, err)
	}
	return locations, nil
}

type loadResult struct {
	Database string         `json:"database" yaml:"database"`
	Files    []string       `json:"files" yaml:"files"`
	Stats    fixture.Stats  `json:"written" yaml:"written"`
	Counts   map[string]int `json:"counts" yaml:"counts"`
}

func runLoad(cmd *cobra.Command, args []string) error {
	if err := checkOutput(); err != nil {
		return err
	}
	cfg := loadConfig(cmd)
	log := cfg.Logger()

	files, err := fixture.Expand(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no fixture files match %s", strings.Join(args, " "))
	}

	docs := make([]*fixture.Document, len(files))
	for i, f := range files {
		if docs[i], err = fixture.ReadFile(f); err != nil {
			return err
		}
	}

	db, err := openDB(cfg, log, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res := loadResult{Database: db.Path(), Files: files}
	err = db.Ingest(ctx, func(w store.Writer) error {
		stats, err := fixture.ApplyAll(ctx, w, docs...)
		if err != nil {
			return err
		}
		res.Stats.Add(stats)
		return nil
	})
	if err != nil {
		return err
	}

	if res.Counts, err = db.Counts(ctx); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"db":    res.Database,
		"files": len(files),
		"nodes": res.Stats.Nodes,
		"edges": res.Stats.Edges,
	}).Info("fixtures loaded")
	return writeOutput(cmd.OutOrStdout(), res)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	log := cfg.Logger()

	log.WithFields(logrus.Fields{
		"listen":           cfg.Listen,
		"db":               cfg.DB,
		"max_hops":         cfg.MaxHops,
		"embeds_expansion": cfg.EmbedsExpansion,
		"query_timeout":    cfg.QueryTimeout,
		"version":          cfg.Version,
	}).Info("assayist starting")

	db, err := openDB(cfg, log, false)
	if err != nil {
		return err
	}
	defer db.Close()

	mux := api.NewRouter(newService(db, cfg, log), cfg, log)
	handler := api.WithDefaults(mux, log, cfg.QueryTimeout)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown error")
		}

		close(done)
	}()

	log.Infof("assayist listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info("assayist stopped")
	return nil
}

func checkOutput() error {
	switch outputFlag {
	case "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", outputFlag)
	}
}

func writeOutput(w io.Writer, v any) error {
	if outputFlag == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
