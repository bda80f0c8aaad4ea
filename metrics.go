package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webq_sessions_active",
		Help: "Number of client connections currently being proxied",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webq_sessions_total",
		Help: "Proxied client connections by terminal status",
	}, []string{"status"})

	pipeBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webq_pipe_bytes_total",
		Help: "Bytes relayed between clients and the upstream server",
	}, []string{"direction"})

	transcodeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webq_transcode_total",
		Help: "Encoding detection outcomes for non-UTF-8 request bytes",
	}, []string{"result"})
)
