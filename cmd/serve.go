package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sw33tLie/beaconscope/internal/config"
	"github.com/sw33tLie/beaconscope/internal/metrics"
	"github.com/sw33tLie/beaconscope/internal/server"
	"github.com/sw33tLie/beaconscope/internal/utils"
	"github.com/sw33tLie/beaconscope/pkg/capture"
	"github.com/sw33tLie/beaconscope/pkg/domains"
	"github.com/sw33tLie/beaconscope/pkg/reaper"
	"github.com/sw33tLie/beaconscope/pkg/tabs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture daemon and the local bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			viper.Set(config.KeyServerListen, listen)
		}
		s, err := loadSettings()
		if err != nil {
			return err
		}
		log := utils.Component("serve")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if s.Store.Driver != config.DriverMemory {
			unlock, err := utils.LockStore(ctx, s.Store.Path)
			if err != nil {
				return err
			}
			defer unlock()
		}

		store, err := openStore(s)
		if err != nil {
			return err
		}
		defer store.Close()

		m := metrics.New(prometheus.DefaultRegisterer)
		tracker := tabs.NewTracker()
		engine, err := capture.New(capture.Options{
			Store:      store,
			AllowList:  domains.NewAllowList(store),
			Tabs:       tracker,
			MaxEvents:  s.Capture.MaxEvents,
			QuotaBytes: s.Store.QuotaBytes,
			Logger:     utils.Component("capture"),
			Metrics:    m,
		})
		if err != nil {
			return err
		}

		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Close()

		if viper.ConfigFileUsed() != "" {
			viper.OnConfigChange(func(e fsnotify.Event) {
				n := viper.GetInt(config.KeyMaxEvents)
				if n == engine.MaxEvents() {
					return
				}
				if err := engine.SetMaxEvents(n); err != nil {
					log.Warnf("Ignoring config change from %s: %v", e.Name, err)
				}
			})
			viper.WatchConfig()
		}

		r := reaper.New(reaper.Config{
			Store:     store,
			Tabs:      tracker,
			Engine:    engine,
			Interval:  s.Reaper.Interval,
			Retention: s.Reaper.Retention,
			Log:       utils.Component("reaper"),
			Metrics:   m,
		})
		srv := server.New(engine, tracker, s.Server.Username, s.Server.Password)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx, s.Server.Listen)
		})
		g.Go(func() error {
			return r.Run(gctx)
		})

		err = g.Wait()
		if flushErr := engine.Flush(context.Background()); flushErr != nil {
			log.Warnf("Final flush: %v", flushErr)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides server.listen)")
}
