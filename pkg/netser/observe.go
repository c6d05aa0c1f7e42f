package netser

import (
	"github.com/lk2023060901/danmu-garden-netser/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// observe 上报一次根对象操作的统计数据。
func observe(direction, typeName string, n, objects, defRefs int, err error) {
	if err != nil {
		metrics.Failures.WithLabelValues(direction, merr.Class(err).String()).Inc()
		return
	}
	metrics.StreamBytes.WithLabelValues(direction).Add(float64(n))
	metrics.VisitedObjects.WithLabelValues(direction).Add(float64(objects))
	metrics.DefinitionHits.WithLabelValues(direction).Add(float64(defRefs))
	if direction == metrics.EncodeLabel {
		metrics.StreamSize.WithLabelValues(typeName).Observe(float64(n))
	}
}
