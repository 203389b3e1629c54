package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gwillem/rzpanel/pkg/stage"
)

// axisInfo is the public description of an axis.
type axisInfo struct {
	Label        string        `json:"label"`
	Unit         string        `json:"unit"`
	VelocityUnit string        `json:"vunit"`
	AccelUnit    string        `json:"aunit"`
	Limits       *stage.Limits `json:"limits,omitempty"`
}

// Server serves the snapshot over HTTP: GET /api/status, GET /api/axes and
// the websocket stream at /api/stream.
type Server struct {
	snap   *Snapshot
	stream *Stream
	logger *zap.Logger
}

// NewServer creates an API server. stream may be nil.
func NewServer(snap *Snapshot, stream *Stream, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{snap: snap, stream: stream, logger: logger}
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/axes", s.handleAxes)
	if s.stream != nil {
		mux.Handle("GET /api/stream", s.stream)
	}
	return corsMiddleware(mux)
}

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.stream != nil {
		s.stream.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snap)
}

func (s *Server) handleAxes(w http.ResponseWriter, r *http.Request) {
	axes := s.snap.Axes()
	out := make([]axisInfo, 0, len(axes))
	for _, a := range axes {
		out = append(out, axisInfo{
			Label:        a.Label,
			Unit:         a.Unit,
			VelocityUnit: a.VelocityUnit,
			AccelUnit:    a.AccelUnit,
			Limits:       a.Limits,
		})
	}
	writeJSON(w, out)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
