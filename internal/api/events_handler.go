package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/switchboard/internal/transport"
)

const keepAliveInterval = 15 * time.Second

// handleEvents handles GET /admin/events, the host activity stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		s.writeError(w, http.StatusNotFound, "activity stream is disabled")
		return
	}
	flusher, ok := startSSE(w)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	// Send buffered events first for late clients.
	for _, a := range s.deps.Hub.SnapshotSince(lastID) {
		if err := writeSSE(w, a.ID, a.Type, a.Data); err != nil {
			return
		}
	}
	flusher.Flush()

	ch, cancel := s.deps.Hub.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case a, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, a.ID, a.Type, a.Data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handlePluginStream handles GET /plugin/stream. Frames are the encoded
// envelopes; binary codecs are base64 encoded. Buffered frames are replayed
// only to a reader that sends Last-Event-ID.
func (s *Server) handlePluginStream(w http.ResponseWriter, r *http.Request) {
	ob, title, ok := s.deps.Plugins.Outbox(r.Header.Get("Origin"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "plugin not found")
		return
	}
	flusher, ok := startSSE(w)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session := uuid.NewString()
	logger := s.logger.With("plugin", title, "session", session)
	logger.Info("plugin stream opened")
	defer logger.Info("plugin stream closed")

	binary := s.deps.Router.Codec().ContentType() != "application/json"
	send := func(fr transport.Frame) error {
		data := fr.Payload
		if binary {
			data = []byte(base64.StdEncoding.EncodeToString(fr.Payload))
		}
		return writeSSE(w, fr.ID, "message", data)
	}

	// Subscribe before replaying so nothing falls between the two.
	ch, cancel := ob.Subscribe()
	defer cancel()

	// Only a resuming reader gets the backlog. A fresh session restarts its
	// request ids, so old responses would be mistaken for new ones.
	var lastID int64
	if resume := r.Header.Get("Last-Event-ID"); resume != "" {
		lastID = parseLastEventID(resume)
		for _, fr := range ob.Since(lastID) {
			if err := send(fr); err != nil {
				return
			}
			lastID = fr.ID
		}
	} else {
		lastID = ob.LastID()
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case fr, ok := <-ch:
			if !ok {
				return
			}
			if fr.ID <= lastID {
				continue
			}
			if err := send(fr); err != nil {
				return
			}
			lastID = fr.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one event. data must be a single line.
func writeSSE(w http.ResponseWriter, id int64, eventType string, data []byte) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
		return err
	}
	if eventType != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
