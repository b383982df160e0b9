package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "idp"

// registry is a private Prometheus registry whose collectors all carry a
// constant service label.
type registry struct {
	gatherer *prometheus.Registry
	factory  promauto.Factory
}

func newRegistry(service string) registry {
	reg := prometheus.NewRegistry()
	labeled := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, reg)
	return registry{gatherer: reg, factory: promauto.With(labeled)}
}

// withRuntime adds Go and process collectors, unlabeled.
func (r registry) withRuntime() registry {
	r.gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
