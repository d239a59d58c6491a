// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/redisq/common"
)

var (
	connectTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "connect_total",
			Help:      "Connections established total",
		},
	)

	connectFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "connect_failed_total",
			Help:      "Connection establishment failures total",
		},
	)

	poisonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "conn_poisoned_total",
			Help:      "Connections poisoned by transport or protocol errors total",
		},
	)

	commandsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "commands_total",
			Help:      "Commands submitted total",
		},
	)

	pipelinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "pipelines_total",
			Help:      "Pipelines executed total",
		},
	)

	txAbortedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "tx_aborted_total",
			Help:      "Transactions aborted by watch invalidation total",
		},
	)

	bytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "bytes_written_total",
			Help:      "Bytes written to server total",
		},
	)

	bytesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "bytes_read_total",
			Help:      "Bytes read from server total",
		},
	)

	poolAcquiredConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "pool_acquired_conns",
			Help:      "Connections currently held by callers",
		},
	)

	poolWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "pool_waiters",
			Help:      "Callers currently waiting for a connection",
		},
	)
)
