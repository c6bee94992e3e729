// Copyright 2024 gorse Project Authors
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

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const LabelSubjectType = "subject_type"

var (
	UpdateSimilarItemsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ratings",
		Subsystem: "worker",
		Name:      "update_similar_items_total",
	}, []string{LabelSubjectType})
	UpdateSimilarItemsSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ratings",
		Subsystem: "worker",
		Name:      "update_similar_items_seconds",
	}, []string{LabelSubjectType})
	LastUpdateSimilarItemsTime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ratings",
		Subsystem: "worker",
		Name:      "last_update_similar_items_time",
	}, []string{LabelSubjectType})
	UpdateSimilarItemsFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratings",
		Subsystem: "worker",
		Name:      "update_similar_items_failures",
	}, []string{LabelSubjectType})
	RecommendSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ratings",
		Subsystem: "worker",
		Name:      "recommend_seconds",
	}, []string{"recommender"})
)
