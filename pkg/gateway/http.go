package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/slzcdhd/1mcp/internal/apperr"
	"github.com/slzcdhd/1mcp/internal/jsonrpc"
	"github.com/slzcdhd/1mcp/pkg/upstream"
)

const sessionHeader = "Mcp-Session-Id"

// managerView is the slice of *upstream.Manager the HTTP surface needs
// beyond Router's connectorLookup, kept as an interface for the same
// reason.
type managerView interface {
	connectorLookup
	Status() map[string]upstream.Status
	ConnectedCount() int
}

// Server exposes the router over HTTP: POST /mcp for the JSON-RPC
// traffic, GET /health and GET /mcp/info for operational visibility.
type Server struct {
	router  *Router
	manager managerView
	logger  *slog.Logger

	sessions *sessionTable
	started  time.Time

	name, version string
}

// Options configures a Server's HTTP surface.
type Options struct {
	Logger       *slog.Logger
	Name         string
	Version      string
	DisableCORS  bool
	AllowOrigins []string
}

func (o Options) normalized() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Name == "" {
		o.Name = "mcp-aggregator"
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	if len(o.AllowOrigins) == 0 {
		o.AllowOrigins = []string{"*"}
	}
	return o
}

// NewServer builds the HTTP handler for router/manager.
func NewServer(router *Router, manager managerView, opts Options) *Server {
	opts = opts.normalized()
	return &Server{
		router:   router,
		manager:  manager,
		logger:   opts.Logger,
		sessions: newSessionTable(),
		started:  time.Now(),
		name:     opts.Name,
		version:  opts.Version,
	}
}

// Handler builds the http.Handler for this server, wrapping it in CORS
// middleware unless disabled.
func (s *Server) Handler(opts Options) http.Handler {
	opts = opts.normalized()

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mcp/info", s.handleInfo)

	if opts.DisableCORS {
		return mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", sessionHeader, "Authorization"},
		ExposedHeaders:   []string{sessionHeader},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

// Close releases the session table's eviction goroutine.
func (s *Server) Close() {
	s.sessions.close()
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		s.handleDelete(w, r)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonrpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, jsonrpc.CodeParseError, "invalid json-rpc request")
		return
	}
	if req.JSONRPC == "" {
		req.JSONRPC = jsonrpc.Version
	}

	sessionID := strings.TrimSpace(r.Header.Get(sessionHeader))

	if req.Method == "initialize" {
		id := s.sessions.create()
		w.Header().Set(sessionHeader, id)
		result, _ := json.Marshal(map[string]any{
			"protocolVersion": "2025-06-18",
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
			"capabilities":    map[string]any{"tools": map[string]any{}, "resources": map[string]any{}, "prompts": map[string]any{}},
		})
		writeResult(w, req.ID, result, id)
		return
	}

	if sessionID == "" || !s.sessions.touch(sessionID) {
		writeError(w, req.ID, jsonrpc.CodeInvalidParams, "missing or invalid mcp session")
		return
	}
	w.Header().Set(sessionHeader, sessionID)

	if req.Method == "notifications/initialized" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Method == "ping" {
		result, _ := json.Marshal(map[string]any{})
		writeResult(w, req.ID, result, sessionID)
		return
	}

	ctx := r.Context()
	result, err := s.dispatch(ctx, req.Method, req.Params)
	if err != nil {
		writeAppError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result, sessionID)
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "tools/list":
		return s.router.ListTools(ctx)
	case "tools/call":
		return s.router.CallTool(ctx, params)
	case "resources/list":
		return s.router.ListResources(ctx)
	case "resources/templates/list":
		return s.router.ListResourceTemplates(ctx)
	case "resources/read":
		return s.router.ReadResource(ctx, params)
	case "prompts/list":
		return s.router.ListPrompts(ctx)
	case "prompts/get":
		return s.router.GetPrompt(ctx, params)
	default:
		return nil, apperr.New(apperr.KindNotFound, "method "+method+" not found")
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.Header.Get(sessionHeader))
	if sessionID != "" {
		s.sessions.delete(sessionID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.router.registry.Snapshot()
	status := s.manager.Status()
	body := map[string]any{
		"status":             "ok",
		"upstreams":          status,
		"connectedUpstreams": s.manager.ConnectedCount(),
		"totalTools":         snap.Tools,
		"totalResources":     snap.Resources,
		"totalPrompts":       snap.Prompts,
		"uptimeSeconds":      int(time.Since(s.started).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snap := s.router.registry.Snapshot()
	body := map[string]any{
		"name":            s.name,
		"version":         s.version,
		"protocolVersion": "2025-06-18",
		"totalTools":      snap.Tools,
		"totalResources":  snap.Resources,
		"totalPrompts":    snap.Prompts,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func writeResult(w http.ResponseWriter, id jsonrpc.ID, result json.RawMessage, sessionID string) {
	resp := jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	if sessionID != "" {
		w.Header().Set(sessionHeader, sessionID)
	}
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id jsonrpc.ID, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, message))
}

func writeAppError(w http.ResponseWriter, id jsonrpc.ID, err error) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apperr.ToResponse(id, err))
}
