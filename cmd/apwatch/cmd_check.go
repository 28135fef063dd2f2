package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/HerbHall/apwatch/internal/config"
	"github.com/HerbHall/apwatch/internal/identity"
	"github.com/HerbHall/apwatch/internal/source"
	"github.com/HerbHall/apwatch/internal/tracker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// checkResult is the outcome of polling one source once.
type checkResult struct {
	cfg      source.Config
	records  int
	clients  int
	dropped  int
	duration time.Duration
	err      error
	rtt      time.Duration
	pingErr  error
}

// runCheck polls every configured source once and prints what each
// returned. It exits non-zero if any source failed.
func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	verbose := fs.Bool("v", false, "log adapter activity to stderr")
	doPing := fs.Bool("ping", false, "also send ICMP echo requests to each source host")
	_ = fs.Parse(args)

	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	cfg, err := tracker.LoadConfig(config.New(v).Sub("plugins.tracker"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid tracker configuration: %v\n", err)
		return 1
	}
	if len(cfg.Sources) == 0 {
		fmt.Fprintln(os.Stderr, "no sources configured")
		return 1
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			return 1
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var ping pingFunc
	if *doPing {
		ping = icmpPing(3, 3*time.Second)
	}
	results := checkSources(ctx, cfg.Sources, source.New, ping, logger)
	printCheck(os.Stdout, results)
	for _, r := range results {
		if r.err != nil {
			return 1
		}
	}
	return 0
}

// checkSources polls all sources concurrently. A failing source does not
// cancel the others. A nil ping skips the ICMP check.
func checkSources(ctx context.Context, sources []source.Config, newAdapter tracker.AdapterFactory, ping pingFunc, logger *zap.Logger) []checkResult {
	results := make([]checkResult, len(sources))
	var g errgroup.Group
	for i, sc := range sources {
		g.Go(func() error {
			res := checkSource(ctx, sc, newAdapter, logger.With(zap.String("source", sc.ID)))
			if ping != nil {
				res.rtt, res.pingErr = ping(ctx, sc.Host)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func checkSource(ctx context.Context, sc source.Config, newAdapter tracker.AdapterFactory, logger *zap.Logger) checkResult {
	res := checkResult{cfg: sc}
	adapter, err := newAdapter(sc, logger)
	if err != nil {
		res.err = err
		return res
	}
	defer func() { _ = adapter.Close() }()

	pollCtx, cancel := context.WithTimeout(ctx, sc.Timeout)
	defer cancel()
	start := time.Now()
	raw, err := adapter.Poll(pollCtx)
	res.duration = time.Since(start)
	if err != nil {
		res.err = err
		return res
	}

	clients, errs := identity.Normalize(raw, sc.ID, sc.Scope, time.Now())
	res.records = len(raw)
	res.clients = len(clients)
	res.dropped = len(errs)
	return res
}

func printCheck(out io.Writer, results []checkResult) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSCOPE\tTYPE\tRECORDS\tCLIENTS\tDROPPED\tTIME\tPING\tSTATUS")
	for _, r := range results {
		status := "ok"
		if r.err != nil {
			status = r.err.Error()
		}
		ping := "-"
		switch {
		case r.pingErr != nil:
			ping = "unreachable"
		case r.rtt > 0:
			ping = r.rtt.Round(100 * time.Microsecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.cfg.ID, r.cfg.Scope, r.cfg.Type,
			r.records, r.clients, r.dropped,
			r.duration.Round(time.Millisecond), ping, status,
		)
	}
	_ = tw.Flush()
}

// ensureDir creates the parent directory of path.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}
