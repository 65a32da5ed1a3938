// Package health tracks the health of the regqueue process and its
// dependencies and serves the aggregate as JSON.
//
// A Status is one of healthy, degraded or unhealthy. A Monitor holds the last
// reported Status per component and can also poll probes, functions that
// compute a component's Status on demand:
//
//	monitor := health.NewMonitor()
//	monitor.AddProbe("registration", func() health.Status {
//		return health.NewHealthy("registration", fmt.Sprintf("%d pending", manager.Pending()))
//	})
//	client, _ := natsclient.NewClient(url,
//		natsclient.WithDisconnectCallback(func(err error) {
//			monitor.Update("nats", health.FromError("nats", err))
//		}),
//	)
//
// Aggregation is pessimistic: any unhealthy component makes the system
// unhealthy, otherwise any degraded component makes it degraded.
//
// Handler serves the aggregate. It answers 503 only when the system is
// unhealthy, so a degraded process keeps receiving traffic.
//
// Messages built from errors pass through FromError, which strips URLs, paths,
// addresses and credentials before they reach the endpoint.
package health
