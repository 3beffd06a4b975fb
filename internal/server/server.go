// Package server exposes the local status API of a running desk: connection
// state, session, inbox, leads, a live event stream and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visadesk/internal/auth"
	"visadesk/internal/chat"
	"visadesk/internal/domain"
)

// Reconnector is the part of the connection manager the API drives.
type Reconnector interface {
	Reconnect()
}

type SessionSource interface {
	Session(ctx context.Context) (auth.Session, error)
}

type Config struct {
	Host        string
	Port        int
	Version     string
	MetricsPath string // empty disables the metrics endpoint

	Bus      domain.EventBus
	Conn     Reconnector
	Sessions SessionSource
	Inbox    *chat.Inbox
	Leads    *chat.LeadFeed
	Logger   *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
	server *http.Server
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, promhttp.Handler())
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/reconnect", s.handleReconnect)
		r.Get("/inbox", s.handleInbox)
		r.Get("/leads", s.handleLeads)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("status API started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Debug("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"latency", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

type statusResponse struct {
	Connection string         `json:"connection"`
	LastEvent  string         `json:"lastEvent,omitempty"`
	Session    *sessionStatus `json:"session,omitempty"`
}

type sessionStatus struct {
	Operator      string     `json:"operator,omitempty"`
	SignedIn      bool       `json:"signedIn"`
	AccessExpires *time.Time `json:"accessExpires,omitempty"`
	Expired       bool       `json:"expired"`
	CanRefresh    bool       `json:"canRefresh"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Connection: s.cfg.Bus.State().String()}
	if ev := s.cfg.Bus.Last(); ev != nil {
		resp.LastEvent = ev.EventType()
	}
	if s.cfg.Sessions != nil {
		sess, err := s.cfg.Sessions.Session(r.Context())
		if err != nil {
			s.logger.Warn("session lookup failed", "err", err)
			writeError(w, http.StatusInternalServerError, "session unavailable")
			return
		}
		st := &sessionStatus{
			Operator:   sess.Operator,
			SignedIn:   sess.SignedIn,
			Expired:    sess.Expired,
			CanRefresh: sess.CanRefresh,
		}
		if !sess.AccessExpires.IsZero() {
			exp := sess.AccessExpires.UTC()
			st.AccessExpires = &exp
		}
		resp.Session = st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Conn == nil {
		writeError(w, http.StatusServiceUnavailable, "no connection manager")
		return
	}
	s.cfg.Conn.Reconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{"connection": s.cfg.Bus.State().String()})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Inbox == nil {
		writeJSON(w, http.StatusOK, []domain.ChatSummary{})
		return
	}
	chats := s.cfg.Inbox.Search(r.URL.Query().Get("q"))
	if chats == nil {
		chats = []domain.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	leads := []domain.Lead{}
	total := 0
	if s.cfg.Leads != nil {
		leads = append(leads, s.cfg.Leads.Leads()...)
		total = s.cfg.Leads.Total()
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "leads": leads})
}

// handleEvents streams bus events as server-sent events. Slow clients drop
// events rather than stall the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := make(chan []byte, 16)
	offer := func(data []byte) {
		select {
		case ch <- data:
		default:
		}
	}
	unsubEvents := s.cfg.Bus.Subscribe(func(ev domain.InboundEvent) {
		data, err := json.Marshal(map[string]any{"type": ev.EventType(), "event": ev})
		if err != nil {
			return
		}
		offer(data)
	})
	defer unsubEvents()
	unsubState := s.cfg.Bus.OnState(func(st domain.ConnectionState) {
		data, _ := json.Marshal(map[string]string{"type": "state", "state": st.String()})
		offer(data)
	})
	defer unsubState()

	// Headers go out after subscribing so a client that saw them cannot miss events.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
