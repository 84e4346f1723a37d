/*
Package observability turns engine lifecycle events into logs and Prometheus metrics.

Both LoggingHooks and Metrics.Hooks return domain.LifecycleHooks; combine them with
domain.ComposeHooks and pass the result to wabaflow.WithLifecycleHooks.
*/
package observability
