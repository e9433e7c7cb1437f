package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/internal/recovery"
	"github.com/Mutter0815/MassDispatch/internal/store"
	"github.com/Mutter0815/MassDispatch/pkg/config"
	"github.com/Mutter0815/MassDispatch/pkg/db"
	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/rmq"
	"github.com/Mutter0815/MassDispatch/services/campaign-api/server"
)

func main() {
	logx.Init("campaign-api")
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	sqlDB, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		} else {
			logx.L().Infow("db_closed")
		}
	}()

	st := store.New(sqlDB)
	if !db.IsPostgres(sqlDB) {
		if err := st.Migrate(context.Background()); err != nil {
			logx.L().Fatalw("db_migrate_error", "error", err)
		}
	}

	var pub campaign.Publisher = rmq.Nop{}
	if cfg.RMQURL != "" {
		p, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer func() {
			if err := p.Close(); err != nil {
				logx.L().Warnw("rmq_publisher_close_error", "error", err)
			} else {
				logx.L().Infow("rmq_publisher_closed")
			}
		}()
		pub = p
	} else {
		logx.L().Warnw("rmq_disabled", "reason", "RMQ_URL not set, lifecycle events are dropped")
	}

	// the API only lists and resumes held campaigns; scanning is the worker's job
	h := &server.Handlers{
		Store:          st,
		Recovery:       recovery.NewMonitor(st, pub, 0),
		Pub:            pub,
		DefaultSession: cfg.DefaultSession,
	}
	srv := server.NewHTTPServer(":"+cfg.Port, h)

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}

	logx.L().Infow("campaign-api stopped gracefully")
}
