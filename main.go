package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"karina/bot"
	_ "karina/bots/Karina"
)

const stopOnFailure = false

const shutdownTimeout = 5 * time.Second

var errNoBots = errors.New("no bot could be started")

// getLogger creates a logger in global namespace
func getLogger(debug bool) (*zap.SugaredLogger, func() error) {
	logger, err := bot.NewLogger("Global", debug)
	if err != nil {
		logger = zap.NewExample().Sugar()
	}
	return logger, logger.Sync
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "karina",
		Short:         "Runs the registered Telegram bots",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_FILE"), "configuration file (defaults to $CONFIG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bots until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfgFile)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the bots' database schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), cfgFile)
		},
	})

	return root
}

func readConfig(cfgFile string) (*viper.Viper, error) {
	if cfgFile == "" {
		return nil, errors.New("configuration file name isn't set")
	}
	return bot.ReadConfig(cfgFile)
}

type running struct {
	rec  bot.Record
	bctx *bot.Context
}

func serve(ctx context.Context, cfgFile string) error {
	v, err := readConfig(cfgFile)
	if err != nil {
		return err
	}

	logger, syncLogs := getLogger(v.GetBool(bot.CfgDebug))
	defer syncLogs()

	var bots []running
	for _, rec := range bot.GetThemAll() {
		bctx, err := initBot(v, rec)
		if err != nil {
			logger.Errorw("failed starting bot", "bot", rec.Name, "err", err)
			if stopOnFailure {
				return err
			}
			continue
		}
		bots = append(bots, running{rec, bctx})
	}
	if len(bots) == 0 {
		return errNoBots
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metricsDone <-chan struct{}
	if addr := v.GetString(bot.CfgMetricsAddr); addr != "" {
		metricsDone = serveMetrics(ctx, addr, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range bots {
		r := r
		g.Go(func() error {
			defer func() {
				if err := r.bctx.Close(); err != nil {
					r.bctx.Logger.Errorw("failed releasing resources", "err", err)
				}
				_ = r.bctx.Logger.Sync()
			}()

			err := r.rec.Bot.Run(gctx, r.bctx)
			if err != nil && stopOnFailure {
				return errors.Wrap(err, r.rec.Name)
			}
			if err != nil {
				r.bctx.Logger.Errorw("bot stopped", "err", err)
			}
			return nil
		})
	}

	err = g.Wait()
	cancel()
	if metricsDone != nil {
		<-metricsDone
	}

	logger.Info("botfarm stopped")
	return err
}

// serveMetrics exposes the Prometheus registry until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger *zap.SugaredLogger) <-chan struct{} {
	srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: shutdownTimeout}
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warnw("failed stopping metrics server", "err", err)
		}
	}()

	go func() {
		defer close(done)
		logger.Infof("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("failed serving metrics", "err", err)
		}
	}()

	return done
}

func initBot(v *viper.Viper, rec bot.Record) (*bot.Context, error) {
	cfg, err := bot.LoadConfig(v, rec)
	if err != nil {
		return nil, err
	}

	l, err := bot.NewLogger(rec.Name, cfg.Debug)
	if err != nil {
		return nil, err
	}

	bctx, err := rec.Bot.Init(cfg, l)
	if err != nil {
		_ = l.Sync()
		return nil, err
	}
	return bctx, nil
}

func migrate(ctx context.Context, cfgFile string) error {
	v, err := readConfig(cfgFile)
	if err != nil {
		return err
	}

	logger, syncLogs := getLogger(v.GetBool(bot.CfgDebug))
	defer syncLogs()

	for _, rec := range bot.GetThemAll() {
		m, ok := rec.Bot.(bot.Migrator)
		if !ok {
			continue
		}

		cfg, err := bot.LoadConfig(v, rec)
		if err != nil {
			return err
		}
		if err := m.Migrate(ctx, cfg, logger.With("bot", rec.Name)); err != nil {
			return errors.Wrapf(err, "failed migrating %s", rec.Name)
		}
	}
	return nil
}

// Botfarm entry point
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger, syncLogs := getLogger(true)
		logger.Errorw("botfarm failed", "err", err)
		_ = syncLogs()
		stop()
		os.Exit(1)
	}
}
