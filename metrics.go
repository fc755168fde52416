// Copyright 2026 Blink Labs Software
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

package tally

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	reconcileRuns prometheus.Counter
	ruleChanges   *prometheus.CounterVec
}

func (t *Tally) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	t.metrics = &engineMetrics{}
	t.metrics.reconcileRuns = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_reconcile_runs_total",
			Help: "completed rule reconciliation sweeps",
		},
	)
	t.metrics.ruleChanges = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_reconcile_rule_changes_total",
			Help: "rule changes applied by reconciliation by result",
		},
		[]string{"result"},
	)
}
