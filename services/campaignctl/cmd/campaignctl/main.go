package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/MassDispatch/internal/recovery"
	"github.com/Mutter0815/MassDispatch/internal/stats"
	"github.com/Mutter0815/MassDispatch/internal/store"
	"github.com/Mutter0815/MassDispatch/pkg/config"
	"github.com/Mutter0815/MassDispatch/pkg/db"
	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/rmq"
	"github.com/Mutter0815/MassDispatch/services/sender-worker/worker"
)

func openStore() (*store.Store, func()) {
	config.MustLoadCtl()
	d, err := db.Open(config.Ctl.DBDriver, config.Ctl.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	return store.New(d), func() { _ = d.Close() }
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn := openStore()
			defer closeFn()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			logx.L().Infow("migrations_applied", "driver", config.Ctl.DBDriver)
			return nil
		},
	}
}

func recoverCommand() *cobra.Command {
	var (
		resume     int64
		staleAfter time.Duration
	)
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "hold stale running campaigns and list those awaiting a resume decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn := openStore()
			defer closeFn()
			m := recovery.NewMonitor(st, rmq.Nop{}, staleAfter)

			if resume > 0 {
				if err := m.Resume(cmd.Context(), resume); err != nil {
					return fmt.Errorf("resume %d: %w", resume, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "campaign %d resumed\n", resume)
				return nil
			}

			if _, err := m.Scan(cmd.Context()); err != nil {
				return err
			}
			pending, err := m.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no interrupted campaigns")
				return nil
			}
			for _, c := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\tsent=%d failed=%d total=%d\tinterrupted=%s\n",
					c.ID, c.Name, c.SentCount, c.FailedCount, c.TotalCount, c.InterruptedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&resume, "resume", 0, "confirm and resume the campaign with this id")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 5*time.Minute, "running campaigns idle this long are held, 0 holds all running")
	return cmd
}

func reclaimCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "return items with expired leases to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn := openStore()
			defer closeFn()
			n, err := worker.NewSweeper(st, ttl).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d items reclaimed\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "lease-ttl", 15*time.Minute, "lease age after which a processing item is reclaimed")
	return cmd
}

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats ID",
		Short: "reconcile and print campaign counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			st, closeFn := openStore()
			defer closeFn()

			c, err := stats.New(st, rmq.Nop{}).Reconcile(cmd.Context(), id)
			if err != nil {
				return err
			}
			live, err := st.GetCampaignStats(cmd.Context(), id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"id":           c.ID,
				"name":         c.Name,
				"status":       c.Status,
				"total_count":  c.TotalCount,
				"sent_count":   c.SentCount,
				"failed_count": c.FailedCount,
				"items":        live,
			})
		},
	}
}

func main() {
	logx.Init("campaignctl")
	defer logx.Sync()

	rootCmd := cobra.Command{
		Use:          "campaignctl",
		Short:        "operator tooling for the campaign queue",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		migrateCommand(),
		recoverCommand(),
		reclaimCommand(),
		statsCommand(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
