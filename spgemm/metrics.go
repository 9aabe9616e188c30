// Copyright 2026 gorse Project Authors
//
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

package spgemm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const LabelReason = "reason"

var (
	MultiplyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spgemm",
		Subsystem: "engine",
		Name:      "multiply_total",
	})
	MultiplyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spgemm",
		Subsystem: "engine",
		Name:      "multiply_failures_total",
	}, []string{LabelReason})
	MultiplySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spgemm",
		Subsystem: "engine",
		Name:      "multiply_seconds",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
	})
	OutputNnzTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spgemm",
		Subsystem: "engine",
		Name:      "output_nnz_total",
	})
	LiveBuffers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spgemm",
		Subsystem: "allocator",
		Name:      "live_buffers",
	})
	LiveBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spgemm",
		Subsystem: "allocator",
		Name:      "live_bytes",
	})
)
