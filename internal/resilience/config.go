package resilience

import "time"

// PolicyFromSettings builds a RetryPolicy from config values. Non-positive
// values keep the defaults.
func PolicyFromSettings(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryPolicy {
	p := NoRetry()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	p.JitterFraction = 0.25
	return p.withDefaults()
}

// BreakerFromSettings builds a BreakerConfig from config values.
func BreakerFromSettings(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
