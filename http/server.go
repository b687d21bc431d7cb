// Package http provides the operational HTTP API for a statdb database:
// status, integrity, backup, and vacuum endpoints plus Prometheus metrics
// and pprof handlers.
package http

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/statdb/statdb"
)

// Default settings
const (
	DefaultAddr = ":20202"
)

// Server represents the HTTP API server for a statdb database.
type Server struct {
	ln net.Listener

	httpServer  *http.Server
	promHandler http.Handler

	addr string
	db   *statdb.DB

	g      errgroup.Group
	ctx    context.Context
	cancel func()
}

func NewServer(db *statdb.DB, addr string) *Server {
	s := &Server{
		addr: addr,
		db:   db,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.promHandler = promhttp.Handler()
	s.httpServer = &http.Server{
		Handler: http.HandlerFunc(s.serveHTTP),
		BaseContext: func(_ net.Listener) context.Context {
			return s.ctx
		},
	}
	return s
}

func (s *Server) Listen() (err error) {
	if s.ln, err = net.Listen("tcp", s.addr); err != nil {
		return err
	}
	return nil
}

func (s *Server) Serve() {
	s.g.Go(func() error {
		if err := s.httpServer.Serve(s.ln); s.ctx.Err() != nil {
			return err
		}
		return nil
	})
}

func (s *Server) Close() (err error) {
	if s.ln != nil {
		if e := s.ln.Close(); err == nil {
			err = e
		}
	}
	if s.httpServer != nil {
		if e := s.httpServer.Close(); err == nil {
			err = e
		}
	}
	s.cancel()
	if e := s.g.Wait(); e != nil && err == nil {
		err = e
	}
	return err
}

// Port returns the port the listener is running on.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// URL returns the full base URL for the running server.
func (s *Server) URL() string {
	host, _, _ := net.SplitHostPort(s.addr)
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(s.Port())))
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/debug") {
		switch r.URL.Path {
		case "/debug/vars":
			expvar.Handler().ServeHTTP(w, r)
		case "/debug/pprof/cmdline":
			pprof.Cmdline(w, r)
		case "/debug/pprof/profile":
			pprof.Profile(w, r)
		case "/debug/pprof/symbol":
			pprof.Symbol(w, r)
		case "/debug/pprof/trace":
			pprof.Trace(w, r)
		default:
			pprof.Index(w, r)
		}
		return
	}

	serverRequestCountMetricVec.WithLabelValues(r.URL.Path).Inc()

	switch r.URL.Path {
	case "/metrics":
		s.promHandler.ServeHTTP(w, r)

	case "/status":
		switch r.Method {
		case http.MethodGet:
			s.handleGetStatus(w, r)
		default:
			Error(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		}

	case "/integrity":
		switch r.Method {
		case http.MethodGet:
			s.handleGetIntegrity(w, r)
		default:
			Error(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		}

	case "/backups":
		switch r.Method {
		case http.MethodGet:
			s.handleGetBackups(w, r)
		default:
			Error(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		}

	case "/backup":
		switch r.Method {
		case http.MethodPost:
			s.handlePostBackup(w, r)
		default:
			Error(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		}

	case "/vacuum":
		switch r.Method {
		case http.MethodPost:
			s.handlePostVacuum(w, r)
		default:
			Error(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		}

	case "/migrations":
		switch r.Method {
		case http.MethodGet:
			s.handleGetMigrations(w, r)
		default:
			Error(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		}

	default:
		http.NotFound(w, r)
	}
}

type statusResponse struct {
	Ready             bool       `json:"ready"`
	Path              string     `json:"path"`
	Size              int64      `json:"size,omitempty"`
	CurrentVersion    int        `json:"currentVersion,omitempty"`
	TargetVersion     int        `json:"targetVersion"`
	PendingMigrations bool       `json:"pendingMigrations"`
	EarliestTimestamp *time.Time `json:"earliestTimestamp,omitempty"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Ready:         s.db.Ready(),
		Path:          s.db.Path(),
		TargetVersion: s.db.TargetVersion(),
	}
	if size, err := s.db.Size(); err == nil {
		resp.Size = size
	}

	if resp.Ready {
		var err error
		if resp.CurrentVersion, err = s.db.CurrentVersion(r.Context()); err != nil {
			Error(w, r, err, http.StatusInternalServerError)
			return
		}
		resp.PendingMigrations = resp.CurrentVersion < resp.TargetVersion

		earliest, err := s.db.EarliestTimestamp(r.Context())
		if err != nil {
			Error(w, r, err, http.StatusInternalServerError)
			return
		} else if !earliest.IsZero() {
			resp.EarliestTimestamp = &earliest
		}
	}

	renderJSON(w, r, resp)
}

func (s *Server) handleGetIntegrity(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, s.db.CheckIntegrity(r.Context()))
}

func (s *Server) handleGetBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.db.ListBackups()
	if err != nil {
		Error(w, r, err, http.StatusInternalServerError)
		return
	}
	if backups == nil {
		backups = []statdb.BackupInfo{}
	}
	renderJSON(w, r, backups)
}

func (s *Server) handlePostBackup(w http.ResponseWriter, r *http.Request) {
	info, err := s.db.BackupNow(r.Context())
	if err == statdb.ErrSourceNotFound {
		Error(w, r, err, http.StatusNotFound)
		return
	} else if err != nil {
		Error(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, info)
}

func (s *Server) handlePostVacuum(w http.ResponseWriter, r *http.Request) {
	freed, err := s.db.Vacuum(r.Context())
	if err != nil {
		Error(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, struct {
		BytesFreed int64 `json:"bytesFreed"`
	}{BytesFreed: freed})
}

func (s *Server) handleGetMigrations(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.MigrationHistory(r.Context())
	if err != nil {
		Error(w, r, err, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []statdb.MigrationRecord{}
	}
	renderJSON(w, r, records)
}

func renderJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: render: %s", err)
	}
}

func Error(w http.ResponseWriter, r *http.Request, err error, code int) {
	log.Printf("http: error: %s", err)
	http.Error(w, err.Error(), code)
}

// HTTP server metrics.
var (
	serverRequestCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_http_request_count",
		Help: "Number of API requests received.",
	}, []string{"path"})
)
