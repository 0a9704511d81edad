package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"upsnapshot/internal/config"
	"upsnapshot/internal/httpx"
	"upsnapshot/internal/log"
	"upsnapshot/internal/ratelimit"
	"upsnapshot/internal/refresh"
	"upsnapshot/internal/snapshot"
	"upsnapshot/internal/upapi"
	"upsnapshot/internal/views"
)

type options struct {
	configPath string
	pageSize   int
	timeoutSec int
	view       string
	ping       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one Up refresh cycle and print the result",
		Long: `fetch runs a single refresh cycle against the Up API with the same
configuration as the server (config.json, .env and environment) and prints
one view of the resulting snapshot as JSON.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 0, "transactions page size (default from config)")
	cmd.Flags().IntVar(&opts.timeoutSec, "timeout", 0, "per-request timeout seconds (default from config)")
	cmd.Flags().StringVar(&opts.view, "view", "summary", "what to print: summary, accounts, latest, sensors or snapshot")
	cmd.Flags().BoolVar(&opts.ping, "ping", false, "only check the token against /util/ping")
	return cmd
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if !opts.ping && !slices.Contains(viewNames, opts.view) {
		return unknownView(opts.view)
	}

	// .env is optional
	_ = godotenv.Load()

	logCfg := log.FromEnv()
	logCfg.Output = os.Stderr
	logger := log.New(logCfg)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.pageSize != 0 {
		cfg.Up.PageSize = opts.pageSize
	}
	if opts.timeoutSec != 0 {
		cfg.Up.FetchTimeoutSec = opts.timeoutSec
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.WithComponent(log.ComponentConfig).Debug("configuration loaded", log.FieldPageSize, cfg.Up.PageSize)

	client, err := upapi.NewClient(cfg.Up.Token,
		upapi.WithBaseURL(cfg.Up.BaseURL),
		upapi.WithHTTPClient(httpx.New(cfg.FetchTimeout()).Doer()),
		upapi.WithTimeout(cfg.FetchTimeout()),
		upapi.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if opts.ping {
		res, err := client.Ping(ctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		return writeJSON(out, res)
	}

	limiter := ratelimit.New(cfg.Up.MaxRequestsPerMinute, cfg.Up.Burst, time.Duration(cfg.Up.MinRequestIntervalSec)*time.Second)
	c := refresh.New(ratelimit.Wrap(client, limiter), refresh.Options{
		Interval:     cfg.RefreshInterval(),
		PageSize:     cfg.Up.PageSize,
		FetchTimeout: cfg.FetchTimeout(),
		Logger:       logger,
	})
	if err := c.FirstRefresh(ctx); err != nil {
		return err
	}
	v, err := render(opts.view, cfg.EntryID, c.CurrentSnapshot())
	if err != nil {
		return err
	}
	return writeJSON(out, v)
}

var viewNames = []string{"summary", "accounts", "latest", "sensors", "snapshot"}

func render(view, entryID string, snap *snapshot.Snapshot) (any, error) {
	switch view {
	case "summary":
		return views.Summarize(snap), nil
	case "accounts":
		return views.Accounts(snap), nil
	case "latest":
		if lt, ok := views.LatestTransaction(snap); ok {
			return lt, nil
		}
		return nil, nil
	case "sensors":
		return views.Sensors(entryID, snap), nil
	case "snapshot":
		return snap, nil
	default:
		return nil, unknownView(view)
	}
}

func unknownView(view string) error {
	return fmt.Errorf("unknown view %q: must be one of %s", view, strings.Join(viewNames, ", "))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
