// Copyright 2025 Google LLC
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

package bundler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for the resolutions counter.
const (
	resultSuccess  = "success"
	resultConflict = "conflict"
	resultNotFound = "not_found"
	resultError    = "error"
)

// Metrics holds the Prometheus collectors updated by a Resolver. A nil
// *Metrics records nothing.
type Metrics struct {
	// Rounds counts iterations of the search loop. It doubles as the
	// progress heartbeat.
	Rounds prometheus.Counter
	// Backjumps counts rewinds to an earlier decision point.
	Backjumps prometheus.Counter
	// Resolutions counts finished resolutions by result.
	Resolutions *prometheus.CounterVec
	// Duration observes the wall time of each resolution.
	Duration prometheus.Histogram
}

// NewMetrics creates the resolver collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gemresolve",
			Subsystem: "resolver",
			Name:      "rounds_total",
			Help:      "Iterations of the resolver search loop.",
		}),
		Backjumps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gemresolve",
			Subsystem: "resolver",
			Name:      "backjumps_total",
			Help:      "Number of times the resolver rewound to an earlier decision point.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gemresolve",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Finished resolutions by result.",
		}, []string{"result"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gemresolve",
			Subsystem: "resolver",
			Name:      "duration_seconds",
			Help:      "Wall time spent in a single resolution.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Rounds, m.Backjumps, m.Resolutions, m.Duration)
	}
	return m
}

func (m *Metrics) round() {
	if m != nil {
		m.Rounds.Inc()
	}
}

func (m *Metrics) backjump() {
	if m != nil {
		m.Backjumps.Inc()
	}
}

func (m *Metrics) finish(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(result).Inc()
	m.Duration.Observe(d.Seconds())
}
