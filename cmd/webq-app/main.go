package main

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/spf13/cobra"

	"github.com/mdreamfly/web-q/appserver"
)

var (
	cmdRoot = &cobra.Command{
		Use:   "webq-app",
		Short: "web-q application server, forwards to SearXNG and Crawl4AI",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {

			log.SetHandler(cli.Default)
			if rootOpts.LogJSON {
				log.SetHandler(json.Default)
			}
			if rootOpts.Debug {
				log.SetLevel(log.DebugLevel)
			}

			srv := appserver.New(appserver.Config{
				Addr:       rootOpts.Addr,
				SearxngURL: rootOpts.SearxngURL,
				CrawlURL:   rootOpts.CrawlURL,
				LLM:        appserver.LLMConfigFromEnv(),
			})

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			go func() {
				sig := <-sigs
				log.WithField("signal", sig.String()).Info("shutting down")

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()

			if err := srv.ListenAndServe(); err != nil {
				log.WithError(err).Error("server failed")
				os.Exit(-1)
			}
		},
	}

	rootOpts struct {
		Debug      bool
		LogJSON    bool
		Addr       string
		SearxngURL string
		CrawlURL   string
	}
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	cmdRoot.PersistentFlags().BoolVar(&rootOpts.Debug, "debug", false, "Log debug information.")
	cmdRoot.PersistentFlags().BoolVar(&rootOpts.LogJSON, "logJSON", false, "Log as JSON.")
	cmdRoot.PersistentFlags().StringVar(&rootOpts.Addr, "addr", "127.0.0.1:8002", "Listen address, loopback only.")
	cmdRoot.PersistentFlags().StringVar(&rootOpts.SearxngURL, "searxngURL", envOr("SEARXNG_URL", "http://searxng:8080"), "SearXNG base URL.")
	cmdRoot.PersistentFlags().StringVar(&rootOpts.CrawlURL, "crawlURL", envOr("CRAWL4AI_URL", "http://crawl4ai:8000"), "Crawl4AI base URL.")
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
