package observability

// NoopMetricsClient is a metrics client that discards all measurements.
// It is used when metrics collection is disabled so callers never need
// to nil-check their metrics client.
type NoopMetricsClient struct{}

// NewMetricsClient returns the default metrics client. The in-process
// default is a no-op; production deployments wire a Prometheus-backed
// client instead (see pkg/cache/monitoring).
func NewMetricsClient() MetricsClient {
	return &NoopMetricsClient{}
}

// IncrementCounter implements MetricsClient
func (n *NoopMetricsClient) IncrementCounter(name string, value float64) {}

// IncrementCounterWithLabels implements MetricsClient
func (n *NoopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}

// RecordGauge implements MetricsClient
func (n *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordHistogram implements MetricsClient
func (n *NoopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}

// Close implements MetricsClient
func (n *NoopMetricsClient) Close() error { return nil }
