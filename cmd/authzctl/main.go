package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odyssey-erp/odyssey-authz/cmd/authzctl/cli"
	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
)

const usage = `usage: authzctl <command> [flags]

commands:
  prune [-days N]               enqueue an audit retention run
  queues                        show audit and default queue depth
  retry-denials                 requeue archived deny events
  invalidate -scope S [-id ID]  broadcast a permission cache invalidation (principal, role, all)
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authzctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "prune":
		fs := flag.NewFlagSet("prune", flag.ContinueOnError)
		days := fs.Int("days", cfg.AuditRetentionDays, "days of audit history to keep")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		info, err := jobsCLI.TriggerPrune(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s on %s (keep %d days)\n", info.ID, info.Queue, *days)
	case "queues":
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Fprintln(out, s.String())
		}
	case "retry-denials":
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		n, err := jobsCLI.RetryArchivedDenials(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "requeued %d deny events\n", n)
	case "invalidate":
		fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
		scope := fs.String("scope", "", "principal, role or all")
		id := fs.String("id", "", "principal or role id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, PingTimeout: 3 * time.Second})
		if err != nil {
			return err
		}
		defer client.Close()
		if err := cli.NewCacheCLI(client, cfg.AuthzInvalidateChan).Invalidate(ctx, *scope, *id); err != nil {
			return err
		}
		fmt.Fprintf(out, "invalidated %s %s\n", *scope, *id)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
