// Package metrics provides Prometheus metrics for the reclaim daemons.
//
// This package exposes:
//   - Scheduler tick latency by result (ok, backpressure, unread_unknown, error)
//   - Candidates handled per tick by decision (published, too_young, corrupt)
//   - Work queue depth as last observed by the scheduler
//   - Validator outcomes and per-candidate processing latency
//   - Consumer receive results
//   - Index and object store call latency by operation and status
//   - Probable-delete backlog gauges, refreshed by BacklogScanner
//
// Metrics are exposed on /metrics by Server together with the pprof handlers.
//
// Usage:
//
//	gcMetrics := metrics.NewGCMetrics()
//	indexMetrics := metrics.NewIndexMetrics()
//	storeMetrics := metrics.NewObjectStoreMetrics()
//
//	idx := index.NewInstrumentedClient(client, indexMetrics)
//	store := objectstore.NewInstrumentedStore(backend, storeMetrics)
//	sched := gc.NewScheduler(idx, session, cfg, logger, gcMetrics)
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics
