package main

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	webq "github.com/mdreamfly/web-q"
)

var (
	// Version The version of the application (set by make file)
	Version = "UNKNOWN"

	cmdRoot = &cobra.Command{
		Use:   "webq",
		Short: "URL-escaping TCP proxy fronting the web-q application server",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {

			// colors and stderr
			log.SetHandler(cli.Default)

			if err := viper.ReadInConfig(); err != nil {
				if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
					log.WithError(err).Error("failed to load config")
					os.Exit(-1)
				}
			}

			if viper.GetBool("logging.json") {
				log.SetHandler(json.Default)
			}

			if viper.GetBool("debug") {
				log.SetLevel(log.DebugLevel)
			}

			cfg, err := webq.LoadConfig(viper.AllSettings())
			if err != nil {
				log.WithError(err).Error("invalid configuration")
				os.Exit(-1)
			}

			log.WithField("listenAddr", cfg.ListenAddr).Info("listen")
			log.WithField("upstreamAddr", cfg.UpstreamAddr).Info("forward")

			handler, err := webq.NewProxyHandler(cfg)
			if err != nil {
				log.WithError(err).Error("invalid encoding configuration")
				os.Exit(-1)
			}

			var sup *webq.Supervisor
			if len(cfg.ChildCommand) > 0 {
				sup, err = webq.StartChild(cfg)
				if err != nil {
					log.WithError(err).Error("failed to start application server")
					os.Exit(-1)
				}

				go func() {
					<-sup.Done()
					// no restart here: connects fail with a 502 until
					// the operator intervenes
					log.WithError(sup.ExitErr()).Error("application server exited")
				}()
			}

			if cfg.MetricsAddr != "" {
				go func() {
					http.Handle("/metrics", promhttp.Handler())
					if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
						log.WithError(err).Error("metrics listener failed")
					}
				}()
			}

			srv := webq.NewServer(handler)

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			go func() {
				sig := <-sigs
				log.WithField("signal", sig.String()).Info("shutting down")
				srv.Shutdown()
			}()

			if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
				log.WithError(err).Error("listener failed")
			}

			// accepting has stopped; terminate the child, then let the
			// remaining sessions run out
			if sup != nil {
				sup.Stop()
			}
			srv.Wait()

			log.Info("shutdown complete")
		},
	}

	rootOpts struct {
		Debug        bool
		ListenAddr   string
		UpstreamAddr string
		MetricsAddr  string
	}
)

func init() {
	cmdRoot.PersistentFlags().BoolVar(&rootOpts.Debug, "debug", false, "Log debug information.")
	cmdRoot.PersistentFlags().StringVar(&rootOpts.ListenAddr, "listenAddr", "0.0.0.0:8001", "Public listen address.")
	cmdRoot.PersistentFlags().StringVar(&rootOpts.UpstreamAddr, "upstreamAddr", "127.0.0.1:8002", "Internal application server address.")
	cmdRoot.PersistentFlags().StringVar(&rootOpts.MetricsAddr, "metricsAddr", "", "Prometheus metrics listen address, disabled when empty.")
	viper.BindPFlag("debug", cmdRoot.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("listenAddr", cmdRoot.PersistentFlags().Lookup("listenAddr"))
	viper.BindPFlag("upstreamAddr", cmdRoot.PersistentFlags().Lookup("upstreamAddr"))
	viper.BindPFlag("metricsAddr", cmdRoot.PersistentFlags().Lookup("metricsAddr"))
	viper.SetConfigName("config")
	viper.AddConfigPath("/etc/webq/")
	viper.AddConfigPath("$HOME/.webq")
	viper.AddConfigPath("./config")
	viper.SetConfigType("toml")
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
