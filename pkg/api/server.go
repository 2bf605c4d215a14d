// Package api is the HTTP boundary of the graph: it accepts RFA documents,
// returns proof packets or the DG error envelope, and exposes read-only
// chain helpers.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/decisiongraph/core/pkg/chain"
	"github.com/decisiongraph/core/pkg/dgerr"
	"github.com/decisiongraph/core/pkg/engine"
	"github.com/decisiongraph/core/pkg/observability"
	"github.com/decisiongraph/core/pkg/witness"
)

// maxRFABody bounds request bodies well above any valid RFA.
const maxRFABody = 64 * 1024

// Server wires the engine and chain behind HTTP handlers.
type Server struct {
	engine   *engine.Engine
	chain    *chain.Chain
	registry *witness.MemoRegistry
	logger   *slog.Logger
	metrics  *observability.Metrics
	limiter  *RateLimiter
	auth     *Authenticator
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics attaches the instrument set.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter attaches per-requester rate limiting.
func WithRateLimiter(l *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

// WithAuthenticator requires bearer-token authentication on the RFA path.
func WithAuthenticator(a *Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

// NewServer builds a Server.
func NewServer(eng *engine.Engine, ch *chain.Chain, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   eng,
		chain:    ch,
		registry: witness.NewMemoRegistry(ch),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/rfa", s.handleRFA)
	mux.HandleFunc("GET /v1/chain/digest", s.handleDigest)
	mux.HandleFunc("GET /v1/cells/{id}", s.handleCell)
	mux.HandleFunc("GET /v1/witness/{namespace}", s.handleWitness)
	return RequestID(mux)
}

// writeError renders the DG error envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := dgerr.AsError(err).WithRequestID(RequestIDFrom(r.Context()))
	s.metrics.RecordError(r.Context(), string(de.Kind))
	s.logger.Warn("request failed",
		"request_id", de.RequestID,
		"code", de.Kind,
		"path", r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dgerr.HTTPStatus(de.Kind))
	_ = json.NewEncoder(w).Encode(dgerr.ToEnvelope(de))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleRFA is the single external entry point for queries.
func (s *Server) handleRFA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rfa map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRFABody))
	if err := dec.Decode(&rfa); err != nil {
		s.writeError(w, r, dgerr.Wrap(dgerr.KindSchemaInvalid, "request body is not a JSON object", err))
		return
	}

	if s.auth != nil {
		principal, err := s.auth.Authenticate(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		// The token subject is authoritative for requester identity.
		rfa["requester_id"] = principal
	}

	requester, _ := rfa["requester_id"].(string)
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, requester)
		if err != nil {
			s.writeError(w, r, dgerr.Wrap(dgerr.KindInternal, "rate limiter unavailable", err))
			return
		}
		if !ok {
			w.Header().Set("Retry-After", "1")
			s.writeJSON(w, http.StatusTooManyRequests, dgerr.Envelope{
				Code:      string(dgerr.KindUnauthorized),
				Message:   "rate limit exceeded",
				RequestID: RequestIDFrom(ctx),
			})
			return
		}
	}

	start := time.Now()
	packet, err := s.engine.ProcessRFA(rfa)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ns, _ := rfa["namespace"].(string)
	s.metrics.RecordQuery(ctx, ns, time.Since(start))
	if packet.Signature != nil {
		s.metrics.RecordPacketSigned(ctx)
	}
	s.writeJSON(w, http.StatusOK, packet)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	digest, err := s.chain.Digest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"graph_id": s.chain.GraphID(),
		"digest":   digest,
		"length":   s.chain.Len(),
	})
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(r.PathValue("id"))
	cl, ok := s.chain.LookupByID(id)
	if !ok {
		s.writeError(w, r, dgerr.New(dgerr.KindInputInvalid, "unknown cell id").
			WithDetail("field", "cell_id"))
		return
	}
	s.writeJSON(w, http.StatusOK, cl)
}

func (s *Server) handleWitness(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespace")
	set, err := s.registry.Get(ns)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if set == nil {
		s.writeError(w, r, dgerr.New(dgerr.KindInputInvalid, "namespace has no witness set").
			WithDetail("field", "namespace"))
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

// ListenAndServe runs the server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}
