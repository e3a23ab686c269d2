package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camai/camsync"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	watchMetricsAddr string
	watchMQTTBroker  string
	watchToken       string
	watchEvents      bool
)

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9108)")
	watchCmd.Flags().StringVar(&watchMQTTBroker, "mqtt-broker", "", "Mirror state to this MQTT broker")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "Push token to register once the channel opens")
	watchCmd.Flags().BoolVar(&watchEvents, "events", true, "Print incoming events and alerts")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the device live state",
	Long: "Open a live session with the configured device and print status changes, events and alerts.\n" +
		"SIGUSR1 suspends the session (pollers paused, channel kept), SIGUSR2 resumes it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}

		metrics := camsync.NewMetrics()
		sess := camsync.NewSession(e.target, camsync.Config{},
			camsync.WithLogger(e.log),
			camsync.WithMetrics(metrics),
			camsync.WithStore(store),
		)

		addr := valueOrDefault(watchMetricsAddr, e.cfg.Metrics.Addr)
		if addr != "" {
			srv := &http.Server{
				Addr:              addr,
				Handler:           promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					e.log.Error().Err(err).Str("addr", addr).Msg("metrics server")
				}
			}()
			defer srv.Close()
		}

		if broker := valueOrDefault(watchMQTTBroker, e.cfg.MQTT.Broker); broker != "" {
			pub, err := camsync.NewMQTTPublisher(camsync.MQTTConfig{
				Broker:   broker,
				ClientID: valueOrDefault(e.cfg.MQTT.ClientID, fmt.Sprintf("camsync-%d", os.Getpid())),
				Username: e.cfg.MQTT.Username,
				Password: e.cfg.MQTT.Password,
			}, e.log)
			if err != nil {
				return err
			}
			defer pub.Close()
			mirror := camsync.NewMirror(pub, valueOrDefault(e.cfg.MQTT.TopicPrefix, "camsync"), e.log)
			defer mirror.Close()
			mirror.Attach(sess)
		}

		sess.Channel().OnStatus(func(st camsync.Status) {
			fmt.Printf("%s  status  %s\n", time.Now().Format(time.TimeOnly), st)
		})
		if watchEvents {
			sess.State().OnChange(func(ch camsync.Change) {
				if ch.Event == nil {
					return
				}
				fmt.Printf("%s  %-6s  %s %s %.0f%%\n", time.Now().Format(time.TimeOnly),
					ch.Kind, ch.Event.Type, ch.Event.Class, ch.Event.Confidence*100)
			})
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sess.Start(ctx)
		defer sess.Stop()

		if watchToken != "" {
			sess.SetPushToken(ctx, watchToken)
		}

		sigs := make(chan os.Signal, 4)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
		defer signal.Stop(sigs)

		for sig := range sigs {
			switch sig {
			case syscall.SIGUSR1:
				sess.Lifecycle().Handle(camsync.SignalSuspend)
			case syscall.SIGUSR2:
				sess.Lifecycle().Handle(camsync.SignalResume)
			default:
				return nil
			}
		}
		return nil
	},
}
