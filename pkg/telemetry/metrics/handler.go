package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the private registry, plus Go runtime and process
// collectors, for the management server's metrics path. Scrapes of the
// handler itself are counted in promhttp_metric_handler_requests_total.
func (c *Collector) Handler() http.Handler {
	registerRuntime(c.registry)

	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
		Registry:          c.registry,
	})
	return promhttp.InstrumentMetricHandler(c.registry, h)
}

func registerRuntime(reg *prometheus.Registry) {
	for _, col := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		var are prometheus.AlreadyRegisteredError
		if err := reg.Register(col); err != nil && !errors.As(err, &are) {
			panic(err)
		}
	}
}
