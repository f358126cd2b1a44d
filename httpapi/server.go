package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pkt.systems/sandview/core"
	"pkt.systems/sandview/internal/eventbus"
	"pkt.systems/sandview/internal/logx"
	"pkt.systems/sandview/internal/metrics"
	"pkt.systems/sandview/internal/preview"
	"pkt.systems/sandview/schema"
)

// Server serves the orchestrator HTTP API.
type Server struct {
	cfg        Config
	service    core.Service
	bus        *eventbus.Bus
	blobs      *preview.BlobStore
	basePath   string
	publicBase string
}

// NewServer constructs an HTTP server over the core service.
func NewServer(cfg Config, service core.Service, bus *eventbus.Bus, blobs *preview.BlobStore) *Server {
	return &Server{
		cfg:        cfg,
		service:    service,
		bus:        bus,
		blobs:      blobs,
		basePath:   normalizeBasePath(cfg.BasePath),
		publicBase: publicBase(cfg.BaseURL, cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/execute", s.handleExecute)
	mux.HandleFunc("/api/cancel", s.handleCancel)
	mux.HandleFunc("/api/tree", s.handleTree)
	mux.HandleFunc("/api/preview", s.handlePreviewToggle)
	mux.HandleFunc("/api/preview/state", s.handlePreviewState)
	mux.HandleFunc("/api/dispose", s.handleDispose)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc(preview.BlobPathPrefix, s.handleBlob)

	handler := withRequestLogging(metrics.Middleware(mux))
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleExecute runs one command and streams its terminal events over SSE.
// Validation failures report before the stream opens; after that the stream
// always ends with exactly one exit event.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	var payload schema.ExecuteRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log := logx.WithWorkspace(r.Context(), payload.WorkspaceID)

	events, err := s.service.Execute(r.Context(), payload)
	if err != nil {
		log.Warn("http execute rejected", "err", err)
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	log.Info("http execute stream opened", "command", payload.Command)
	for event := range events {
		_ = writeSSEvent(w, event)
		flusher.Flush()
	}
	log.Info("http execute stream closed")
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload schema.CancelRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.Cancel(r.Context(), payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload schema.UpdateTreeRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.service.UpdateTree(r.Context(), payload); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePreviewToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload schema.PreviewToggleRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.service.SetPreviewEnabled(r.Context(), payload); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePreviewState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	workspaceID := schema.WorkspaceID(r.URL.Query().Get("workspace"))
	resp, err := s.service.PreviewState(r.Context(), schema.PreviewStateRequest{WorkspaceID: workspaceID})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp.State.PreviewURL = s.absoluteURL(resp.State.PreviewURL)
	writeJSON(w, http.StatusOK, resp)
}

// absoluteURL prefixes server-relative preview paths with the advertised
// public base so browsers outside a reverse proxy can reach them. Absolute
// URLs (dev servers) pass through untouched.
func (s *Server) absoluteURL(url string) string {
	if s.publicBase == "" || !strings.HasPrefix(url, "/") {
		return url
	}
	return s.publicBase + url
}

func (s *Server) handleDispose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload schema.DisposeRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.service.Dispose(r.Context(), payload); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleEvents streams preview and dev server events for one workspace.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	workspaceID := schema.WorkspaceID(r.URL.Query().Get("workspace"))
	if err := schema.ValidateWorkspaceID(workspaceID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event bus unavailable"))
		return
	}
	log := logx.WithWorkspace(r.Context(), workspaceID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, unsubscribe := s.bus.Subscribe(workspaceID)
	defer unsubscribe()

	log.Info("http event stream opened")
	for {
		select {
		case <-r.Context().Done():
			log.Info("http event stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

// handleBlob serves materialized preview documents by token.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.blobs == nil {
		http.NotFound(w, r)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, preview.BlobPathPrefix)
	if token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}
	blob, ok := s.blobs.Get(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(blob.Data)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var execErr *core.ExecError
	if errors.As(err, &execErr) {
		switch execErr.Kind {
		case core.ExecErrorValidation:
			return http.StatusBadRequest
		case core.ExecErrorUnsupported:
			return http.StatusUnprocessableEntity
		}
	}
	switch {
	case errors.Is(err, schema.ErrInvalidWorkspace),
		errors.Is(err, schema.ErrInvalidTree),
		errors.Is(err, schema.ErrEmptyCommand),
		errors.Is(err, schema.ErrCommandTooLong),
		errors.Is(err, schema.ErrUnsafeCommand),
		errors.Is(err, schema.ErrUnknownManager),
		errors.Is(err, schema.ErrMissingScript):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrUnsupportedProject):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return err
}
