// Package metrics records build and dev server metrics.
//
// Components receive a Recorder and default to NoopRecorder, so metrics stay
// optional without nil checks at call sites:
//
//	recorder := metrics.Recorder(metrics.NoopRecorder{})
//	if cfg.Monitoring.Metrics {
//	    recorder = metrics.NewPrometheusRecorder(registry)
//	}
//
// The Prometheus implementation registers its collectors under the
// "assetbuilder" namespace; HTTPHandler exposes a registry for scraping.
package metrics
