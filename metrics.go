package bwtree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwtree",
		Subsystem: "tree",
		Name:      "operations_total",
		Help:      "Total number of tree operations, per operation",
	}, []string{"operation"})
	metricConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwtree",
		Subsystem: "tree",
		Name:      "conflicts_total",
		Help:      "Total number of lost CAS races and stale routes, per operation",
	}, []string{"operation"})
	metricConsolidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwtree",
		Subsystem: "tree",
		Name:      "consolidations_total",
		Help:      "Total number of consolidation attempts, per result",
	}, []string{"result"})
	metricSMOs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwtree",
		Subsystem: "tree",
		Name:      "smo_total",
		Help:      "Total number of structure modification steps, per kind and result",
	}, []string{"kind", "result"})
	metricHelps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwtree",
		Subsystem: "tree",
		Name:      "helps_total",
		Help:      "Total number of structure modifications completed on behalf of another thread, per kind",
	}, []string{"kind"})
	metricReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwtree",
		Subsystem: "epoch",
		Name:      "reclaimed_total",
		Help:      "Total number of reclaimed objects, per kind",
	}, []string{"kind"})
	metricEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bwtree",
		Subsystem: "epoch",
		Name:      "current",
		Help:      "Current global epoch",
	})
	metricPages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bwtree",
		Subsystem: "mapping",
		Name:      "pages",
		Help:      "Number of live page ids",
	})
	metricFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwtree",
		Subsystem: "flush",
		Name:      "snapshots_total",
		Help:      "Total number of page snapshots handled by the flush dispatcher, per result",
	}, []string{"result"})
)

const (
	opGet    = "get"
	opInsert = "insert"
	opUpdate = "update"
	opDelete = "delete"
	opScan   = "scan"
)
