// Package exporters publishes channel metrics over HTTP and Server-Sent Events.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns the Prometheus metrics HTTP handler serving every
// promauto-registered channel metric.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
