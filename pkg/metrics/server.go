package metrics

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

var indexPage = template.Must(template.New("index").Parse(`<html><body>
<h1>imgseek {{.Service}} metrics</h1>
<p><a href="/metrics">/metrics</a></p>
<ul>{{range .Families}}<li>{{.}}</li>{{end}}</ul>
</body></html>
`))

// Server exposes one service's metrics on a dedicated port.
type Server struct {
	service string
	metrics *Metrics
	server  *http.Server
	logger  *slog.Logger
}

// NewServer builds a Server for m. It serves /metrics and an index page
// listing the metric families currently registered.
func NewServer(service string, port int, m *Metrics) *Server {
	s := &Server{
		service: service,
		metrics: m,
		logger:  slog.Default().With("component", "metrics-server", "service", service),
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes the Server answers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /{$}", s.index)
	return mux
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	families, err := s.metrics.gatherer.Gather()
	if err != nil {
		s.logger.Warn("gathering metric families", "error", err)
	}
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexPage.Execute(w, struct {
		Service  string
		Families []string
	}{s.service, names}); err != nil {
		s.logger.Error("rendering metrics index", "error", err)
	}
}

// Start listens in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
