package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/internal/gateway"
	"github.com/Mutter0815/MassDispatch/internal/mutator"
	"github.com/Mutter0815/MassDispatch/internal/recovery"
	"github.com/Mutter0815/MassDispatch/internal/stats"
	"github.com/Mutter0815/MassDispatch/internal/store"
	"github.com/Mutter0815/MassDispatch/pkg/config"
	"github.com/Mutter0815/MassDispatch/pkg/db"
	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/metrics"
	"github.com/Mutter0815/MassDispatch/pkg/rmq"
	"github.com/Mutter0815/MassDispatch/services/sender-worker/worker"
)

func main() {
	logx.Init("sender-worker")
	defer logx.Sync()

	config.MustLoadWorker()
	cfg := config.Worker

	sqlDB, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	st := store.New(sqlDB)
	if !db.IsPostgres(sqlDB) {
		if err := st.Migrate(context.Background()); err != nil {
			logx.L().Fatalw("db_migrate_error", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pub campaign.Publisher = rmq.Nop{}
	var cons *rmq.Consumer
	if cfg.RMQURL != "" {
		p, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer p.Close()
		pub = p

		cons, err = rmq.NewConsumer(cfg.RMQURL, cfg.Queue)
		if err != nil {
			logx.L().Fatalw("rmq_consumer_init_error", "error", err)
		}
		defer cons.Close()
	} else {
		logx.L().Warnw("rmq_disabled", "reason", "RMQ_URL not set, relying on polling")
	}

	held, err := recovery.NewMonitor(st, pub, cfg.RecoveryStaleAfter).Scan(ctx)
	if err != nil {
		logx.L().Errorw("recovery_scan_error", "error", err)
	}
	for _, c := range held {
		logx.L().Warnw("campaign_awaiting_resume", "campaign_id", c.ID, "name", c.Name,
			"hint", "resume via POST /campaigns/:id/resume or campaignctl recover --resume")
	}

	gw := gateway.NewHTTPClient(cfg.GatewayURL, cfg.GatewayTimeout, cfg.SendRatePerSec)
	mut := mutator.New(nil)
	rec := stats.New(st, pub)
	wcfg := worker.Config{
		BatchSize:          cfg.BatchSize,
		Cooldown:           cfg.Cooldown,
		IdlePoll:           cfg.IdlePoll,
		JitterMin:          cfg.JitterMin,
		JitterMax:          cfg.JitterMax,
		StoreRetryAttempts: cfg.StoreRetryAttempts,
	}

	workers := make([]*worker.Worker, 0, cfg.Concurrency)
	for i := 0; i < max(cfg.Concurrency, 1); i++ {
		workers = append(workers, worker.New(st, gw, mut, rec, wcfg))
	}

	sched := cron.New()
	if _, err := worker.NewSweeper(st, cfg.LeaseTTL).Schedule(ctx, sched, cfg.ReclaimSchedule); err != nil {
		logx.L().Fatalw("reclaim_schedule_error", "spec", cfg.ReclaimSchedule, "error", err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	msrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	if cons != nil {
		g.Go(func() error {
			err := cons.Run(gctx, func(body []byte) {
				ev, err := campaign.ParseEvent(body)
				if err != nil {
					logx.L().Warnw("event_unmarshal_error", "error", err)
					return
				}
				if ev.Wakes() {
					for _, w := range workers {
						w.Wake()
					}
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		logx.L().Infow("metrics_listen_start", "addr", cfg.MetricsAddr)
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return msrv.Shutdown(sctx)
	})

	logx.L().Infow("sender_worker_started", "workers", len(workers), "gateway", cfg.GatewayURL)
	if err := g.Wait(); err != nil {
		logx.L().Errorw("sender_worker_error", "error", err)
	}
	logx.L().Infow("sender-worker stopped gracefully")
}
