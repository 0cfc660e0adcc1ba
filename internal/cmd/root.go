// Package cmd provides the command-line interface for vectorcrawl.
// It handles command parsing, configuration loading, and pipeline execution.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/vectorcrawl/internal/config"
)

const defaultUserAgent = "VectorCrawl/1.0"

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vectorcrawl [URLs...]",
	Short: "Fetch web pages and turn them into summarized, embedded records",
	Long: `vectorcrawl fetches a list of pages, extracts their main content,
splits it into chunks and asks a local model backend for a title, a summary
and an embedding per chunk.

Records are appended to records.jsonl and a SQLite database in the output
directory, and a sitemap.xml of every page with records is written at the end.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCrawler,
}

// Execute runs the root command. SIGINT and SIGTERM stop new fetches and let
// pages already in progress finish.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.DefaultConfig()
	flags := rootCmd.Flags()

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./vectorcrawl.yml)")

	// Configuration management flags
	flags.Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Seed sources
	flags.String("seeds-file", "", "File with one seed URL per line ('#' starts a comment)")
	flags.String("seeds-sitemap", "", "Existing sitemap.xml to read seed URLs from")
	flags.String("base-url", "", "Scope root; URLs outside it are skipped (default: origin of the first seed)")

	// Fetching
	flags.IntP("concurrency", "c", defaults.Concurrency, "Number of concurrent fetch workers")
	flags.DurationP("delay", "r", defaults.RequestDelay, "Minimum delay between requests to the same host")
	flags.DurationP("timeout", "t", defaults.RequestTimeout, "HTTP request timeout")
	flags.StringP("user-agent", "u", defaults.UserAgent, "HTTP User-Agent header")
	flags.Bool("ignore-robots", false, "Ignore robots.txt rules")
	flags.Int64("max-page-bytes", defaults.MaxPageBytes, "Truncate response bodies to this many bytes")
	flags.IntP("limit", "l", defaults.Limit, "Stop after N seed URLs (0=unlimited)")
	flags.Int("max-attempts", defaults.MaxAttempts, "Fetch attempts per URL, including the first")
	flags.Duration("retry-base-delay", defaults.RetryBaseDelay, "Delay before the first fetch retry")
	flags.Duration("retry-max-delay", defaults.RetryMaxDelay, "Upper bound for fetch retry delays")

	// Authentication type flag
	flags.String("auth-type", "", "Authentication type: 'basic', 'bearer', or 'api-key'")

	// Basic authentication flags
	flags.String("auth-username", "", "Username for basic authentication")
	flags.String("auth-password", "", "Password for basic authentication")

	// Bearer authentication flags
	flags.String("auth-token", "", "Bearer token for authorization header")

	// API Key authentication flags
	flags.String("auth-header", "", "API key header name (e.g., X-API-Key)")
	flags.String("auth-value", "", "API key header value")

	// HTTP Headers flags
	flags.StringSliceP("header", "H", []string{}, "Custom HTTP headers in 'Name: Value' format (use multiple times for multiple headers)")

	// URL filtering flags
	flags.StringSlice("include-patterns", []string{}, "Regex patterns for URLs to include")
	flags.StringSlice("exclude-patterns", []string{}, "Regex patterns for URLs to exclude")

	// Chunking
	flags.Int("chunk-size", defaults.ChunkSize, "Maximum characters per chunk")
	flags.Int("chunk-lookback", defaults.ChunkLookback, "Characters searched backwards for a sentence or paragraph break")

	// Backend
	flags.String("backend-endpoint", defaults.Backend.Endpoint, "Base URL of the Ollama-compatible backend")
	flags.String("model", defaults.Backend.Model, "Model used for titles and summaries")
	flags.String("embed-model", defaults.Backend.EmbedModel, "Model used for embeddings")
	flags.Int("embed-dim", defaults.Backend.EmbedDim, "Expected embedding dimension")
	flags.Duration("backend-timeout", defaults.Backend.Timeout, "Deadline for a single backend call")
	flags.Int("backend-concurrency", defaults.Backend.Concurrency, "Concurrent backend calls")
	flags.Int("backend-max-attempts", defaults.Backend.MaxAttempts, "Attempts per backend call before falling back")
	flags.Bool("skip-backend-check", false, "Do not check that the backend is reachable before starting")

	// Output
	flags.StringP("output-dir", "o", defaults.OutputDir, "Directory for records.jsonl, vectorcrawl.db and sitemap.xml")
	flags.Bool("resume", defaults.Resume, "Skip URLs that already succeeded in this output directory")
	flags.String("metrics-addr", "", "Serve /metrics, /healthz and /stats on this address (e.g. :9090)")

	// Logging
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "json", "Log format: json or text")
	flags.String("log-file", "", "Also write logs to this file, rotated by size")

	// Bind flags to viper
	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"seeds_file", "seeds-file"},
		{"seeds_sitemap", "seeds-sitemap"},
		{"base_url", "base-url"},
		{"concurrency", "concurrency"},
		{"request_delay", "delay"},
		{"request_timeout", "timeout"},
		{"user_agent", "user-agent"},
		{"ignore_robots", "ignore-robots"},
		{"max_page_bytes", "max-page-bytes"},
		{"limit", "limit"},
		{"max_attempts", "max-attempts"},
		{"retry_base_delay", "retry-base-delay"},
		{"retry_max_delay", "retry-max-delay"},
		{"include_patterns", "include-patterns"},
		{"exclude_patterns", "exclude-patterns"},
		{"headers", "header"},
		{"auth.type", "auth-type"},
		{"auth.basic.username", "auth-username"},
		{"auth.basic.password", "auth-password"},
		{"auth.bearer.token", "auth-token"},
		{"auth.apikey.header", "auth-header"},
		{"auth.apikey.value", "auth-value"},
		{"chunk_size", "chunk-size"},
		{"chunk_lookback", "chunk-lookback"},
		{"backend.endpoint", "backend-endpoint"},
		{"backend.model", "model"},
		{"backend.embed_model", "embed-model"},
		{"backend.embed_dim", "embed-dim"},
		{"backend.timeout", "backend-timeout"},
		{"backend.concurrency", "backend-concurrency"},
		{"backend.max_attempts", "backend-max-attempts"},
		{"skip_backend_check", "skip-backend-check"},
		{"output_dir", "output-dir"},
		{"resume", "resume"},
		{"metrics_addr", "metrics-addr"},
		{"log_level", "log-level"},
		{"log_format", "log-format"},
		{"log_file", "log-file"},
	}

	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, flags.Lookup(bind.flagName)); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("vectorcrawl")
	}

	viper.AutomaticEnv() // read in environment variables that match
	viper.SetEnvPrefix("VC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("VectorCrawl/%s", version)
	}
	return "VectorCrawl/dev"
}

// loadConfig merges defaults, config file, environment and flags
func loadConfig(cmd *cobra.Command, args []string) (*config.CrawlConfig, error) {
	cfg := config.DefaultConfig()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Command line URLs replace seed_urls from the config file
	if len(args) > 0 {
		cfg.SeedURLs = args
	}

	// The flag is phrased negatively; the config key is respect_robots
	if viper.GetBool("ignore_robots") {
		cfg.RespectRobots = false
	}

	cfg.LoadHeadersFromEnv()

	// Update User-Agent with dynamic version if not explicitly set
	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == defaultUserAgent {
		cfg.UserAgent = generateUserAgent()
	}

	return cfg, nil
}

func showCurrentConfig(w io.Writer, cfg *config.CrawlConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Validate configuration before showing it
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current vectorcrawl Configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./vectorcrawl.yml\n")
	fmt.Fprintf(w, "# Environment variables prefix: VC_\n\n")

	_, _ = w.Write(yamlData)

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (VC_ prefix)\n")
	fmt.Fprintf(w, "# 3. Configuration file (vectorcrawl.yml)\n")
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}

func runCrawler(cmd *cobra.Command, args []string) error {
	// Handle --show-config flag first
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	if showConfig {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seeds, err := loadSeeds(cfg)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return fmt.Errorf("%w\nUsage: %s [URLs...], --seeds-file FILE or --seeds-sitemap FILE", errNoSeeds, os.Args[0])
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return run(ctx, cfg, seeds, logOptions(), cmd.OutOrStdout())
}
