package config

// ObservabilityConfig configures the metrics and probe HTTP server, which
// runs separately from the control API so probes stay reachable when the API
// is saturated.
type ObservabilityConfig struct {
	Enabled       bool   `envconfig:"ENABLED" default:"true"`
	Host          string `envconfig:"HOST" default:"0.0.0.0"`
	Port          string `envconfig:"PORT" default:"9090"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/health/live"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/health/ready"`
}

// Addr returns the host:port the observability server binds to.
func (c *ObservabilityConfig) Addr() string {
	return c.Host + ":" + c.Port
}
