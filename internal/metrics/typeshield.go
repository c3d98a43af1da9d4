package metrics

import "time"

// AuthMetrics holds all typeshield-specific metrics.
type AuthMetrics struct {
	registry *Registry

	// Counters
	RegistrationsTotal *Counter
	LoginSuccessTotal  *Counter
	LoginFailureTotal  *Counter
	RateLimitedTotal   *Counter
	ErrorsTotal        *Counter

	// Gauges
	ActiveSessions *Gauge
	UptimeSeconds  *Gauge

	// Histograms
	SimilarityScore *Histogram
	LoginDuration   *Histogram
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewAuthMetrics creates and registers all typeshield metrics.
func NewAuthMetrics(registry *Registry) *AuthMetrics {
	if registry == nil {
		registry = NewRegistry("typeshield")
	}

	return &AuthMetrics{
		registry: registry,

		RegistrationsTotal: registry.Counter(
			"registrations_total",
			"Total number of users enrolled",
			nil,
		),
		LoginSuccessTotal: registry.Counter(
			"logins_total",
			"Total number of login attempts by outcome",
			Labels{"outcome": "success"},
		),
		LoginFailureTotal: registry.Counter(
			"logins_total",
			"Total number of login attempts by outcome",
			Labels{"outcome": "failure"},
		),
		RateLimitedTotal: registry.Counter(
			"rate_limited_total",
			"Total number of login attempts rejected by the rate limiter",
			nil,
		),
		ErrorsTotal: registry.Counter(
			"errors_total",
			"Total number of internal errors",
			nil,
		),

		ActiveSessions: registry.Gauge(
			"active_sessions",
			"Number of live authenticated sessions",
			nil,
		),
		UptimeSeconds: registry.Gauge(
			"uptime_seconds",
			"Seconds since the process started",
			nil,
		),

		SimilarityScore: registry.Histogram(
			"similarity_score",
			"Distribution of behavioural similarity scores",
			nil,
			ScoreBuckets,
		),
		LoginDuration: registry.Histogram(
			"login_duration_seconds",
			"Login request handling duration",
			nil,
			DurationBuckets,
		),
	}
}

// Registry returns the underlying registry, for the scrape endpoint.
func (m *AuthMetrics) Registry() *Registry {
	return m.registry
}

// RecordFailedLogin counts a denied attempt toward the outcome counter.
func (m *AuthMetrics) RecordFailedLogin() {
	m.LoginFailureTotal.Inc()
}

// RecordSuccessfulLogin counts an accepted attempt and its score.
func (m *AuthMetrics) RecordSuccessfulLogin(score float64) {
	m.LoginSuccessTotal.Inc()
	m.SimilarityScore.Observe(score)
}

// UpdateUptime refreshes the uptime gauge.
func (m *AuthMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}
