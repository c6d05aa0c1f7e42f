// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	generatorSubsystem = "generator"
	contextSubsystem   = "context"
)

var (
	GenerationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: netserNamespace,
		Subsystem: generatorSubsystem,
		Name:      "generation_duration_ms",
		Help:      "一次完整代码生成（发现 + 编译过程对）的耗时",
		Buckets:   buckets,
	})

	GeneratedTypes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: netserNamespace,
		Subsystem: generatorSubsystem,
		Name:      "generated_types",
		Help:      "分发表中已生成过程对的类型数量",
	})

	StreamBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: netserNamespace,
		Subsystem: contextSubsystem,
		Name:      "stream_bytes_total",
		Help:      "序列化写出或反序列化读入的字节总数",
	}, []string{directionLabelName})

	StreamSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: netserNamespace,
		Subsystem: contextSubsystem,
		Name:      "stream_size_bytes",
		Help:      "单次根对象序列化的字节数分布",
		Buckets:   sizeBuckets,
	}, []string{typeLabelName})

	VisitedObjects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: netserNamespace,
		Subsystem: contextSubsystem,
		Name:      "visited_objects_total",
		Help:      "首次访问并写出字段的引用对象数量",
	}, []string{directionLabelName})

	DefinitionHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: netserNamespace,
		Subsystem: contextSubsystem,
		Name:      "definition_hits_total",
		Help:      "以定义表下标代替字段数据的引用数量",
	}, []string{directionLabelName})

	Failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: netserNamespace,
		Subsystem: contextSubsystem,
		Name:      "failures_total",
		Help:      "按错误类别统计的序列化/反序列化失败次数",
	}, []string{directionLabelName, classLabelName})
)

// RegisterNetserMetrics 将序列化引擎相关的指标注册到 Registerer 中。
func RegisterNetserMetrics(r prometheus.Registerer) {
	r.MustRegister(GenerationDuration)
	r.MustRegister(GeneratedTypes)
	r.MustRegister(StreamBytes)
	r.MustRegister(StreamSize)
	r.MustRegister(VisitedObjects)
	r.MustRegister(DefinitionHits)
	r.MustRegister(Failures)
}
