// Package metrics implements the MetricsSurface: an HTTP endpoint exposing
// health and Prometheus metrics for the submission pipeline, plus an
// optional best-effort Slack alert hook for operator-facing failures.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Surface is the MetricsSurface: a small chi router serving /healthz and
// /metrics, with its counters and gauges registered under a private
// registry so multiple Surfaces in tests don't collide on prometheus's
// global default registry. Of these, only ActiveWaiters is updated outside
// this package (by the orchestrator); nothing in the pipeline increments
// the counters or calls AlertFailure.
type Surface struct {
	registry *prometheus.Registry
	router   chi.Router
	logger   *zap.Logger
	alerter  *slackAlerter

	SubmissionsIngested *prometheus.CounterVec
	PatchsetOutcomes    *prometheus.CounterVec
	OrchestratorSignals *prometheus.CounterVec
	GitPushFailures     prometheus.Counter
	ActiveWaiters       prometheus.Gauge
}

// New builds a Surface. corsOrigin, if non-empty, is the single allowed
// origin for the operator dashboard fetching /metrics cross-origin.
// slackWebhookURL, if non-empty, enables best-effort alert posting via
// AlertFailure.
func New(corsOrigin, slackWebhookURL string, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &Surface{
		registry: reg,
		logger:   logger,
		SubmissionsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "submissions_ingested_total",
			Help: "Count of mail-session messages classified and stored by the ingestor.",
		}, []string{"kind"}),
		PatchsetOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "patchset_outcomes_total",
			Help: "Count of patchset validation outcomes by result suffix.",
		}, []string{"suffix"}),
		OrchestratorSignals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_signals_total",
			Help: "Count of control signals handled by the orchestrator.",
		}, []string{"kind"}),
		GitPushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "git_push_failures_total",
			Help: "Count of failed tag or note pushes to the grading remote.",
		}),
		ActiveWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_active_waiters",
			Help: "Number of deadline waiter goroutines currently sleeping.",
		}),
	}

	if slackWebhookURL != "" {
		s.alerter = newSlackAlerter(slackWebhookURL, logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	if corsOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{corsOrigin},
			AllowedMethods: []string{http.MethodGet},
		}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.router = r

	return s
}

// ListenAndServe blocks serving the surface on addr until ctx is cancelled
// or the server fails to start. A cancelled ctx triggers a graceful
// shutdown; the return is nil in that case.
func (s *Surface) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ActiveWaitersSetter returns a func(int) suitable for wiring into
// orchestrator.Orchestrator.ActiveWaiters.
func (s *Surface) ActiveWaitersSetter() func(int) {
	return func(n int) { s.ActiveWaiters.Set(float64(n)) }
}

// AlertFailure posts msg to the configured Slack webhook, if any. Failures
// to post are logged and otherwise swallowed — alerting is best-effort and
// must never block or fail the caller's real work.
func (s *Surface) AlertFailure(ctx context.Context, msg string) {
	if s.alerter == nil {
		return
	}
	s.alerter.send(ctx, msg)
}

// slackAlerter rate-limits outgoing webhook posts with a simple token
// bucket so a failure storm doesn't spam the channel.
type slackAlerter struct {
	webhookURL string
	logger     *zap.Logger

	bucket chan struct{}
}

func newSlackAlerter(webhookURL string, logger *zap.Logger) *slackAlerter {
	const burst = 5
	a := &slackAlerter{webhookURL: webhookURL, logger: logger, bucket: make(chan struct{}, burst)}
	for i := 0; i < burst; i++ {
		a.bucket <- struct{}{}
	}
	go a.refill()
	return a
}

func (a *slackAlerter) refill() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		select {
		case a.bucket <- struct{}{}:
		default:
		}
	}
}

func (a *slackAlerter) send(ctx context.Context, msg string) {
	select {
	case <-a.bucket:
	default:
		a.logger.Warn("dropping slack alert, rate limit exhausted", zap.String("message", msg))
		return
	}
	err := slack.PostWebhookContext(ctx, a.webhookURL, &slack.WebhookMessage{Text: msg})
	if err != nil {
		a.logger.Warn("failed to post slack alert", zap.Error(err))
	}
}
