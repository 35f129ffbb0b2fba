// Copyright 2025 Wyrd Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type publisherMetrics struct {
	rootsPublished prometheus.Counter
	publishErrors  *prometheus.CounterVec
	backlogDepth   prometheus.Gauge
}

func newPublisherMetrics(registry prometheus.Registerer) *publisherMetrics {
	factory := promauto.With(registry)
	return &publisherMetrics{
		rootsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "publisher_roots_published_total",
				Help: "claim-tree roots anchored on the ledger",
			},
		),
		publishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publisher_errors_total",
				Help: "publish failures by reason",
			},
			[]string{"reason"},
		),
		backlogDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "publisher_backlog_depth",
				Help: "unpublished sealed epochs in the configured token group, ghosts included",
			},
		),
	}
}
