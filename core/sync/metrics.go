package sync

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/synctime/base/metrics"
	"example.com/synctime/base/timebase"
)

type engineMetrics struct {
	updates          *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	leaps            *prometheus.CounterVec
	timeouts         *prometheus.CounterVec
	rateCorrections  *prometheus.CounterVec
	rateDiscarded    *prometheus.CounterVec
	rateDeviation    *prometheus.GaugeVec
	offsetCorrection *prometheus.CounterVec
	timerStarts      *prometheus.CounterVec
	timerExpirations *prometheus.CounterVec
	timerDeviation   *prometheus.GaugeVec
	shmWrites        *prometheus.CounterVec
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	f := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help},
			[]string{metrics.LabelTimeBase})
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help},
			[]string{metrics.LabelTimeBase})
	}
	return &engineMetrics{
		updates:          counter(metrics.SyncUpdatesN, metrics.SyncUpdatesH),
		rejected:         counter(metrics.SyncUpdatesRejectedN, metrics.SyncUpdatesRejectedH),
		leaps:            counter(metrics.SyncTimeLeapsN, metrics.SyncTimeLeapsH),
		timeouts:         counter(metrics.SyncTimeoutsN, metrics.SyncTimeoutsH),
		rateCorrections:  counter(metrics.RateCorrectionsN, metrics.RateCorrectionsH),
		rateDiscarded:    counter(metrics.RateCorrectionsDiscardedN, metrics.RateCorrectionsDiscardedH),
		rateDeviation:    gauge(metrics.RateDeviationN, metrics.RateDeviationH),
		offsetCorrection: counter(metrics.OffsetCorrectionsN, metrics.OffsetCorrectionsH),
		timerStarts:      counter(metrics.TimerStartsN, metrics.TimerStartsH),
		timerExpirations: counter(metrics.TimerExpirationsN, metrics.TimerExpirationsH),
		timerDeviation:   gauge(metrics.TimerDeviationN, metrics.TimerDeviationH),
		shmWrites:        counter(metrics.ShmWritesN, metrics.ShmWritesH),
	}
}

func label(id timebase.ID) string {
	return strconv.Itoa(int(id))
}
