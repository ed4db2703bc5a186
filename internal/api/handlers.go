package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Focused:       s.deps.Router.Focused(),
	}
	if s.deps.Plugins != nil {
		resp.Plugins = len(s.deps.Plugins.broker.Plugins())
	}
	respondJSON(w, http.StatusOK, resp)
}

// handlePluginMessage handles POST /plugin/messages. The response never
// reveals whether the origin is trusted.
func (s *Server) handlePluginMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxMessageSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxMessageSize {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	origin := r.Header.Get("Origin")
	router := s.deps.Router
	err = s.deps.Loop.Submit(r.Context(), func(ctx context.Context) {
		router.OnMessage(ctx, origin, body)
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

// handleListPlugins handles GET /admin/plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	focused := s.deps.Router.Focused()
	entries := s.deps.Plugins.broker.Plugins()

	resp := PluginListResponse{
		Focused: focused,
		Plugins: make([]PluginSummary, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Plugins = append(resp.Plugins, PluginSummary{
			Title:        e.Title,
			Origin:       e.Origin,
			RegisteredAt: e.RegisteredAt,
			Focused:      e.Title == focused,
			Streaming:    s.deps.Plugins.Streaming(e.Title),
			Allow:        s.deps.Plugins.Rules(e.Title),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRegisterPlugin handles POST /admin/plugins.
func (s *Server) handleRegisterPlugin(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)

	ob, err := s.deps.Plugins.Attach(req.Title, req.URL, req.Allow)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("plugin attached", "plugin", req.Title, "origin", ob.Origin())

	respondJSON(w, http.StatusCreated, PluginSummary{
		Title:     req.Title,
		Origin:    ob.Origin(),
		Focused:   s.deps.Router.Focused() == req.Title,
		Streaming: true,
		Allow:     s.deps.Plugins.Rules(req.Title),
	})
}

// handleUnregisterPlugin handles DELETE /admin/plugins/{title}.
func (s *Server) handleUnregisterPlugin(w http.ResponseWriter, r *http.Request) {
	title := chi.URLParam(r, "title")
	if !s.deps.Plugins.Detach(title) {
		s.writeError(w, http.StatusNotFound, "plugin not found")
		return
	}
	s.logger.Info("plugin detached", "plugin", title)
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages handles GET /admin/messages?plugin=&limit=.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusNotFound, "message audit is disabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := s.deps.History.Recent(r.Context(), r.URL.Query().Get("plugin"), limit)
	if err != nil {
		s.logger.Error("failed to read message log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read message log")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// handleFocus handles POST /admin/focus as a tab change.
func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req FocusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.dispatch(w, r, events.HostEvent{Kind: events.KindTabChanged, Title: req.Title}) {
		return
	}
	respondJSON(w, http.StatusOK, FocusResponse{Focused: s.deps.Router.Focused()})
}

// handleBroadcast handles POST /admin/broadcast.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	env := protocol.NewNotification(req.Key, req.Type, req.Value...)
	if err := env.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var delivered int
	err := s.deps.Loop.Do(r.Context(), func(ctx context.Context) {
		delivered = s.deps.Router.Broadcast(ctx, env)
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if s.deps.Hub != nil {
		s.deps.Hub.Publish(events.ActivityBroadcast, map[string]any{"key": req.Key, "type": req.Type, "delivered": delivered})
	}
	respondJSON(w, http.StatusOK, BroadcastResponse{Delivered: delivered})
}

// handleHostEvent handles POST /admin/events, the unsigned twin of the webhook.
func (s *Server) handleHostEvent(w http.ResponseWriter, r *http.Request) {
	var ev events.HostEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.dispatch(w, r, ev) {
		return
	}
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

// dispatch routes ev and writes an error response on failure.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev events.HostEvent) bool {
	err := s.deps.Dispatcher.Dispatch(r.Context(), ev)
	switch {
	case err == nil:
		return true
	case errors.Is(err, events.ErrUnknownKind), errors.Is(err, events.ErrInvalidEvent):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, events.ErrLoopStopped):
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		s.logger.Error("host event dispatch failed", "kind", ev.Kind, "error", err)
		s.writeError(w, http.StatusInternalServerError, "dispatch failed")
	}
	return false
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
