package breaker

import "time"

// Config is a service's persisted circuit-breaker configuration, backed by
// the circuit_breaker_config table.
type Config struct {
	ServiceName       string
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	RequestLimit      int
	MonitoringWindow  time.Duration
	MinimumRequests   int
}

// DefaultConfig returns the out-of-the-box tuning applied to a service with
// no row yet in circuit_breaker_config.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:      serviceName,
		FailureThreshold: 5,
		RecoveryTimeout:  15 * time.Second,
		RequestLimit:     1,
		MonitoringWindow: 60 * time.Second,
		MinimumRequests:  10,
	}
}
