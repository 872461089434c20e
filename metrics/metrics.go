package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/synchrony-labs/synchrony/global"
)

const DefaultPort = 14000

// Start exposes the registry of the environment on /metrics. Returns the server, so that the owner can stop it
func Start(env global.Environment, port int) *http.Server {
	if port == 0 {
		env.Log().Warnf("metrics port not specified. Will use %d for Prometheus metrics exposure", DefaultPort)
		port = DefaultPort
	}
	env.MetricsRegistry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		env.MetricsRegistry(),
		promhttp.HandlerOpts{
			Registry: env.MetricsRegistry(),
		},
	))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.Log().Errorf("metrics server: %v", err)
		}
	}()
	env.Log().Infof("Prometheus metrics exposed on port %d", port)
	return srv
}
