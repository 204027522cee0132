// Package metrics provides build, stage and tool metrics for kbuild.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics cost nothing unless enabled:
//
//	recorder := metrics.NewPrometheusRecorder(nil)
//	orch := orchestrator.New(cfg, orchestrator.WithRecorder(recorder))
//
// A build is a short-lived process, so there is no scrape endpoint. When
// --metrics-file is given the PrometheusRecorder is written once at exit in
// the node exporter textfile format.
package metrics
