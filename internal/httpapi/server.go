package httpapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/relaykit/mediacast/internal/mediacast"
)

// StagingView exposes the staging area to the status surface.
type StagingView interface {
	StagedFiles() ([]string, error)
	Clear()
}

// RegistryView is the read-only slice of an identifier store the API serves.
type RegistryView interface {
	Snapshot() []int64
}

type ServerConfig struct {
	// AuthToken guards every /v1 route. Empty disables auth.
	AuthToken       string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Server is the read-mostly operational surface of the relay: staging area
// inspection, registry snapshots and a live delivery event feed. It never
// initiates Telegram traffic.
type Server struct {
	staging     StagingView
	recipients  RegistryView
	blocklist   RegistryView
	events      *mediacast.EventBus
	cfg         ServerConfig
	rateLimiter *rateLimiter
	logger      *slog.Logger
	started     time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

type ServerOptions struct {
	Staging    StagingView
	Recipients RegistryView
	Blocklist  RegistryView
	Events     *mediacast.EventBus
	Config     ServerConfig
	Logger     *slog.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Staging == nil || opts.Recipients == nil || opts.Blocklist == nil {
		return nil, mediacast.ErrInvalidInput
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		staging:     opts.Staging,
		recipients:  opts.Recipients,
		blocklist:   opts.Blocklist,
		events:      opts.Events,
		cfg:         cfg,
		rateLimiter: limiter,
		logger:      opts.Logger,
		started:     time.Now().UTC(),
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(s.started).Truncate(time.Second).String(),
		})
		return
	}

	if authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.AuthToken); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "request rate limit exceeded", getCorrelationID(r))
		return
	}

	switch {
	case r.URL.Path == "/v1/staging" && r.Method == http.MethodGet:
		s.handleStagingList(w, r)
	case r.URL.Path == "/v1/staging" && r.Method == http.MethodDelete:
		s.handleStagingClear(w, r)
	case r.URL.Path == "/v1/registry/recipients" && r.Method == http.MethodGet:
		s.handleRegistry(w, s.recipients)
	case r.URL.Path == "/v1/registry/blocklist" && r.Method == http.MethodGet:
		s.handleRegistry(w, s.blocklist)
	case r.URL.Path == "/v1/events" && r.Method == http.MethodGet:
		s.handleEvents(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

func (s *Server) handleStagingList(w http.ResponseWriter, r *http.Request) {
	files, err := s.staging.StagedFiles()
	if err != nil {
		s.logger.Error("failed to list staging area", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list staging area", getCorrelationID(r))
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(files),
		"files": files,
	})
}

func (s *Server) handleStagingClear(w http.ResponseWriter, r *http.Request) {
	s.staging.Clear()
	s.logger.Info("staging area cleared via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleRegistry(w http.ResponseWriter, registry RegistryView) {
	ids := registry.Snapshot()
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(ids),
		"ids":   ids,
	})
}

// handleEvents upgrades to a websocket and streams delivery events until the
// client disconnects. Expected inbound frames: none.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "not_found", "event feed is not enabled", getCorrelationID(r))
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	ctx := conn.CloseRead(r.Context())

	feed, cancel := s.events.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-feed:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
