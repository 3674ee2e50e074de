// Package httpapi serves model fits over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/n0madic/go-poisson-lognormal/optim"
	"github.com/n0madic/go-poisson-lognormal/pln"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Server fits models on request. Every server owns its Prometheus registry.
type Server struct {
	log          zerolog.Logger
	reg          *prometheus.Registry
	http         *httpMetrics
	optim        *optim.Metrics
	maxBodyBytes int64
	corsOrigins  []string
	slots        chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger installs a structured logger used by the HTTP layer and the
// fits it runs.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMaxBodyBytes sets the maximum request body size. Non-positive values
// keep the 1 MiB default.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithCORS enables CORS for the given origins.
func WithCORS(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = append([]string(nil), origins...)
	}
}

// WithMaxConcurrentFits bounds the fits running at once; requests beyond
// the bound get 429. Zero means unbounded.
func WithMaxConcurrentFits(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		} else {
			s.slots = nil
		}
	}
}

// New builds a Server.
func New(opts ...Option) *Server {
	s := &Server{
		log:          zerolog.Nop(),
		reg:          prometheus.NewRegistry(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.http = newHTTPMetrics(s.reg, "plnfit")
	s.optim = optim.NewMetrics(s.reg, "plnfit")
	return s
}

// Registry exposes the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry { return s.reg }

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.http.middleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/variants", s.handleVariants)
	r.Post("/v1/fit", s.handleFit)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleVariants(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"variants":   []pln.Variant{pln.VariantFull, pln.VariantSpherical, pln.VariantDiagonal, pln.VariantRank, pln.VariantSparse},
		"algorithms": optim.SupportedAlgorithms(),
	})
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		default:
			s.http.backpressure.Inc()
			writeJSONError(w, http.StatusTooManyRequests, "too many fits in progress")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defaults := optim.DefaultSettings()
	req := FitRequest{Optimizer: &defaults}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	log := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
	start := time.Now()
	res, err := s.fit(req, log)
	if err != nil {
		status := statusFor(err)
		log.Info().Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("fit rejected")
		writeJSONError(w, status, err.Error())
		return
	}
	body, err := json.Marshal(res.Report())
	if err != nil {
		log.Error().Err(err).Msg("encode report")
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	log.Info().
		Str("variant", string(res.Variant)).
		Str("status", res.Status.String()).
		Dur("dur", time.Since(start)).
		Msg("fit served")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) fit(req FitRequest, log zerolog.Logger) (*pln.Result, error) {
	j, err := req.job()
	if err != nil {
		return nil, err
	}
	return pln.Fit(j.model, j.data, j.init, j.settings,
		pln.WithLogger(log),
		pln.WithMetrics(s.optim),
	)
}
