// Package server exposes stream coordinators over HTTP. Each session owns one
// coordinator; chunks posted to a session are processed in arrival order.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"phobos.org.uk/toolstream/internal/api"
	"phobos.org.uk/toolstream/internal/config"
	"phobos.org.uk/toolstream/internal/logging"
	"phobos.org.uk/toolstream/internal/stream"
	"phobos.org.uk/toolstream/internal/subagent"
	"phobos.org.uk/toolstream/internal/tools"
)

// Errors returned by session lookups and creation.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLimit    = errors.New("session limit reached")
	ErrShuttingDown    = errors.New("server is shutting down")
)

// StatusResponse represents the /status response
type StatusResponse struct {
	Type          string            `json:"type"`
	Interfaces    []string          `json:"interfaces"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Tools         []string          `json:"tools"`
	Sessions      []api.SessionInfo `json:"sessions"`
	Config        StatusConfig      `json:"config"`
}

// StatusConfig shows service config in status
type StatusConfig struct {
	Port               int     `json:"port"`
	MaxSessions        int     `json:"max_sessions"`
	IdleTimeoutSeconds float64 `json:"session_idle_timeout_seconds"`
	SubagentMaxDepth   int     `json:"subagent_max_depth"`
}

// Server is the toolstream HTTP service
type Server struct {
	config    *config.Config
	version   string
	startTime time.Time
	tools     []string
	log       *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	closing  bool

	server       *http.Server
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates a server. It fails when the configuration names a tool with no
// streaming parser.
func New(cfg *config.Config, version string) (*Server, error) {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	if env := os.Getenv("TOOLSTREAM_LOG_LEVEL"); env != "" {
		if l, ok := logging.ParseLevel(env); ok {
			level = l
		}
	}
	log := logging.New(logging.Config{
		Output:     os.Stderr,
		Level:      level,
		Component:  "toolstream",
		MaxEntries: 1000,
	})
	return newServer(cfg, version, log)
}

func newServer(cfg *config.Config, version string, log *logging.Logger) (*Server, error) {
	names := cfg.Stream.Tools
	if len(names) == 0 {
		names = tools.StreamingParserNames()
	}
	if err := tools.RegisterStreamingParsers(stream.NewCoordinator(), names...); err != nil {
		return nil, fmt.Errorf("stream.tools: %w", err)
	}

	return &Server{
		config:    cfg,
		version:   version,
		startTime: time.Now(),
		tools:     names,
		log:       log,
		sessions:  make(map[string]*session),
		shutdown:  make(chan struct{}),
	}, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *logging.Logger {
	return s.log
}

// Router returns the HTTP router
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/status", s.handleStatus)
	r.Post("/shutdown", s.handleShutdown)

	r.Post("/sessions", s.handleCreateSession)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	r.Post("/sessions/{id}/chunks", s.handleChunks)
	r.Post("/sessions/{id}/reset", s.handleResetSession)

	r.Post("/replay", s.handleReplay)

	r.Get("/logs", s.handleLogs)
	r.Get("/logs/stats", s.handleLogStats)

	return r
}

// Start starts the server and its idle session reaper
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	go s.reapLoop()

	s.log.Info("toolstream starting", map[string]any{
		"addr":    addr,
		"version": s.version,
		"tools":   s.tools,
	})
	return s.server.ListenAndServe()
}

// Shutdown stops accepting sessions and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
	})

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// newCoordinator builds a coordinator with the configured parsers.
func (s *Server) newCoordinator() *stream.Coordinator {
	c := stream.NewCoordinator()
	// Names were checked in New.
	_ = tools.RegisterStreamingParsers(c, s.tools...)
	return c
}

// CreateSession opens a new stream session.
func (s *Server) CreateSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return "", ErrShuttingDown
	}
	if len(s.sessions) >= s.config.Stream.MaxSessions {
		return "", ErrSessionLimit
	}

	id := uuid.NewString()
	s.sessions[id] = newSession(id, s.newCoordinator(), s.log.WithSession(id), time.Now())
	s.log.WithSession(id).Info("session created", map[string]any{"sessions": len(s.sessions)})
	return id, nil
}

func (s *Server) session(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// DeleteSession drops a session and its in-flight accumulators.
func (s *Server) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	s.log.WithSession(id).Info("session deleted", nil)
	return nil
}

func (s *Server) sessionInfos() []api.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].createdAt.Before(sessions[j].createdAt) })

	infos := make([]api.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.info())
	}
	return infos
}

// reapLoop drops sessions idle for longer than the configured timeout.
func (s *Server) reapLoop() {
	interval := s.config.Stream.SessionIdleTimeout / 2
	interval = min(max(interval, time.Second), time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case now := <-ticker.C:
			s.reapIdle(now)
		}
	}
}

// reapIdle removes sessions whose last activity is older than the idle
// timeout as of now. It returns the number removed.
func (s *Server) reapIdle(now time.Time) int {
	cutoff := now.Add(-s.config.Stream.SessionIdleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for id, sess := range s.sessions {
		if sess.idleSince(cutoff) {
			delete(s.sessions, id)
			reaped++
			s.log.WithSession(id).Info("session reaped", map[string]any{"in_flight": sess.pending()})
		}
	}
	return reaped
}

// NewSubagentExecutor builds a sub-agent executor from the configured
// sub-agent settings. Tool events are logged under sessionID before being
// passed to onToolEvent, which may be nil.
func (s *Server) NewSubagentExecutor(sessionID string, create subagent.CreateAgentFunc, onToolEvent api.ToolEventFunc) *subagent.Executor {
	log := s.log.WithSession(sessionID)
	results := stream.NewResultLogger(log)
	sink := api.SerializedSink(func(ev api.ToolEvent) {
		results.LogToolEvent(ev)
		if onToolEvent != nil {
			onToolEvent(ev)
		}
	})
	return subagent.NewExecutor(subagent.Context{
		ProjectDirectory: s.config.Subagent.ProjectDirectory,
		OnToolEvent:      sink,
		CreateAgent:      create,
		MaxDepth:         s.config.Subagent.MaxDepth,
		SummaryLimit:     s.config.Subagent.SummaryLimit,
		Log:              log,
	})
}
