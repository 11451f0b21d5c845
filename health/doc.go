// Package health tracks the health of semlive's moving parts and serves the
// aggregate over HTTP.
//
// A Status is healthy, degraded or unhealthy. The Monitor holds pushed
// statuses (Update) and pulled ones (Register a Check that is evaluated on
// every read), and folds them with Aggregate: any unhealthy part makes the
// whole unhealthy, otherwise any degraded part makes it degraded.
//
// Connection state is usually fed from the supervisor's watch channel:
//
//	states, cancel := sup.WatchState()
//	defer cancel()
//	go monitor.Track(ctx, "transport", states)
//
//	http.Handle("/health", health.Handler(monitor, "semlive"))
//
// Error messages shown in statuses are sanitized: URLs, file paths, IP
// addresses, ports and credential-looking pairs are replaced with markers.
package health
