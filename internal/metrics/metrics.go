// Package metrics exposes run counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhle/registry-submit/internal/model"
)

// Outcome labels for BatchesCounter.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

type Metrics struct {
	Registry *prometheus.Registry

	BatchesCounter  *prometheus.CounterVec
	AbortsCounter   *prometheus.CounterVec
	RecordsCounter  prometheus.Counter
	BatchDuration   prometheus.Histogram
	OtpWaitDuration prometheus.Histogram
}

// New registers the run metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		BatchesCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regsubmit_batches_total",
				Help: "Total number of batches processed.",
			},
			[]string{"outcome"},
		),
		AbortsCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regsubmit_batch_aborts_total",
				Help: "Aborted batches by the state they failed in.",
			},
			[]string{"state"},
		),
		RecordsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regsubmit_result_records_total",
			Help: "Total number of result records produced.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regsubmit_batch_duration_seconds",
			Help:    "Time from form load to a terminal state.",
			Buckets: []float64{5, 10, 20, 30, 60, 120, 300},
		}),
		OtpWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regsubmit_otp_wait_seconds",
			Help:    "Time from OTP request to the end of the attempt.",
			Buckets: []float64{5, 10, 15, 30, 60, 120},
		}),
	}

	m.Registry.MustRegister(
		m.BatchesCounter,
		m.AbortsCounter,
		m.RecordsCounter,
		m.BatchDuration,
		m.OtpWaitDuration,
	)
	return m
}

// ObserveAttempt records a terminal attempt finished at end.
func (m *Metrics) ObserveAttempt(a *model.SubmissionAttempt, records int, end time.Time) {
	if m == nil {
		return
	}

	if a.Succeeded() {
		m.BatchesCounter.WithLabelValues(OutcomeSucceeded).Inc()
		m.RecordsCounter.Add(float64(records))
	} else {
		m.BatchesCounter.WithLabelValues(OutcomeFailed).Inc()
		m.AbortsCounter.WithLabelValues(a.FailedIn.String()).Inc()
	}

	m.BatchDuration.Observe(end.Sub(a.StartedAt).Seconds())
	if !a.OtpRequestedAt.IsZero() {
		m.OtpWaitDuration.Observe(end.Sub(a.OtpRequestedAt).Seconds())
	}
}

// ObserveSkip counts a batch without eligible numbers.
func (m *Metrics) ObserveSkip() {
	if m == nil {
		return
	}
	m.BatchesCounter.WithLabelValues(OutcomeSkipped).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
