// Package metrics exposes HomeNet's Prometheus metrics.
//
// All collectors live on a private registry rather than the global default,
// so tests can build as many instances as they like.
//
// Store gauges (device count, dirty flag, lifecycle state) are GaugeFuncs
// evaluated at scrape time from device.Store.Stats. Saves are fed through
// ObserveSave from the store's save callback, and HTTP requests through
// ObserveRequest from the API middleware.
//
// Usage:
//
//	m := metrics.New()
//	m.RegisterStore(store)
//	store.SetOnSave(m.ObserveSave)
//	router.Handle("/metrics", m.Handler())
package metrics
