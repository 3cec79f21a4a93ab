// Package api is the HTTP surface: upload a video, follow the job, fetch
// the notes and their exports.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noteflow/internal/jobs"
	"noteflow/internal/logger"
)

type Options struct {
	MaxUploadBytes int64
	WorkDir        string
}

type Server struct {
	jobs     *jobs.Manager
	opts     Options
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewServer(m *jobs.Manager, opts Options, log *logger.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 512 << 20
	}
	return &Server{
		jobs: m,
		opts: opts,
		log:  logger.OrDefault(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Router returns the service's routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/jobs", s.createJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/ws", s.streamJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/export.md", s.exportMarkdown).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/export.xlsx", s.exportXLSX).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.stats).Methods(http.MethodGet)

	return r
}

// requestID makes sure every request carries an X-Request-ID, so the
// handler log lines and the response share it.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithRequest(r).WithField("duration_ms", time.Since(start).Milliseconds()).Debug("request served")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
