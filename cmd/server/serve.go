package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/outpost-link/internal/config"
	"github.com/DoyleJ11/outpost-link/internal/httpapi"
	"github.com/DoyleJ11/outpost-link/internal/hub"
	"github.com/DoyleJ11/outpost-link/internal/link"
	"github.com/DoyleJ11/outpost-link/internal/logging"
	"github.com/DoyleJ11/outpost-link/internal/metrics"
	"github.com/DoyleJ11/outpost-link/internal/session"
	"github.com/DoyleJ11/outpost-link/internal/store"
)

const boardSession = "MAIN"

func serveCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		addr       string
		port       string
		connect    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the board link",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}
			if cmd.Flags().Changed("port") {
				cfg.Link.Port = port
			}

			log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, connect)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file, ignored when missing")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&port, "port", "", "serial port, empty selects a board automatically")
	cmd.Flags().BoolVar(&connect, "connect", false, "connect to the board on startup")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger, connect bool) error {
	metrics.RegisterMetrics()

	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	vids, _ := cfg.VendorIDs()
	lister := link.EnumeratorLister{}

	h := hub.NewHub(ctx, session.Options{
		Rules:    cfg.Rules(),
		Recorder: st,
		Logger:   log,
	})
	sess := h.Ensure(boardSession)

	lk := link.New(sess, link.Options{
		Config: cfg.LinkConfig(),
		Logger: log,
		Selector: link.USBSelector{
			Lister:    lister,
			VendorIDs: vids,
			Port:      cfg.Link.Port,
			Memory:    st,
		},
		Opener: link.SerialOpener{Baud: cfg.Link.Baud, ReadTimeout: cfg.Link.ReadTimeout},
		Lister: lister,
		Memory: st,
	})
	sess.Bind(lk)

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:    h,
			Lister: lister,
			Rounds: st,
			Logger: log,
		}, cfg.Link.SelectTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return lk.Run(ctx) })

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTP.Addr), zap.String("session", boardSession))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if connect {
		g.Go(func() error {
			if err := sess.ConnectLink(ctx); err != nil {
				log.Warn("initial connect", zap.String("reason", link.Describe(err)), zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}
