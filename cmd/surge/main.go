// Package main implements the surge CLI for scanning news articles for
// tradeable-item mentions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AssortedFood/surge/internal/catalog"
	"github.com/AssortedFood/surge/internal/config"
	"github.com/AssortedFood/surge/internal/logging"
	"github.com/AssortedFood/surge/internal/mentions"
	"github.com/AssortedFood/surge/internal/oracle"
	"github.com/AssortedFood/surge/internal/telemetry"
)

var (
	configPath string
	titleFlag  string
	runsFlag   int
	threshFlag float64
	singleFlag bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "surge",
	Short: "Hybrid item-mention scanner for game news articles",
	Long: `surge extracts tradeable-item mentions from news article text by
combining a deterministic lexical scan of the item catalog with a
text-generation oracle, then voting across repeated runs to keep only
mentions that recur.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(catalogCmd)
}

// scanCmd extracts item mentions from one article
var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Extract item mentions from an article file or stdin",
	Long: `Extract item mentions from an article and print the voted result
as JSON.

Examples:
  # Scan an article file
  surge scan article.txt --title "Treasure Hunter returns"

  # Scan from stdin
  cat article.txt | surge scan -

  # One extraction pass, no voting
  surge scan article.txt --single`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

// catalogCmd inspects the item catalog source
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Load the item catalog and print a summary",
	RunE:  runCatalog,
}

func init() {
	scanCmd.Flags().StringVar(&titleFlag, "title", "", "article title (improves oracle context)")
	scanCmd.Flags().IntVar(&runsFlag, "runs", 0, "number of voting runs (0 uses the configured default)")
	scanCmd.Flags().Float64Var(&threshFlag, "threshold", -1, "appearance-ratio threshold (negative uses the configured default)")
	scanCmd.Flags().BoolVar(&singleFlag, "single", false, "one extraction pass without consensus filtering")
}

func runScan(cmd *cobra.Command, args []string) error {
	body, err := readArticle(args)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("no article text to scan")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, logger.Underlying())
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	idx, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info(ctx, "catalog loaded", zap.Int("items", idx.Len()))

	client, err := oracle.NewChatClient(cfg.Oracle)
	if err != nil {
		return fmt.Errorf("failed to build oracle client: %w", err)
	}

	combiner := mentions.NewCombiner(client, cfg.Extraction, logger.Named("combiner").Underlying())
	engine := mentions.NewEngine(combiner, cfg.Extraction, logger.Named("voting").Underlying())

	runs, threshold := runsFlag, threshFlag
	if singleFlag {
		runs, threshold = 1, 0
	}

	result, err := engine.Vote(ctx, titleFlag, string(body), idx, runs, threshold)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Source: %s\n", cfg.Catalog.Source)
	fmt.Printf("Items:  %d\n", idx.Len())
	return nil
}

// readArticle reads the article body from the named file, or stdin when
// no file (or "-") is given.
func readArticle(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return body, nil
}

func loadCatalog(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*catalog.Index, error) {
	var src catalog.Source
	switch cfg.Catalog.Source {
	case config.CatalogSourceFile:
		src = catalog.NewFileSource(cfg.Catalog.Path, logger.Named("catalog").Underlying())
	default:
		httpSrc, err := catalog.NewHTTPSource(cfg.Catalog.HTTP)
		if err != nil {
			return nil, fmt.Errorf("failed to build catalog source: %w", err)
		}
		src = httpSrc
	}

	idx, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return idx, nil
}
