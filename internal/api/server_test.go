package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/broker"
	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
)

type fixture struct {
	broker  *broker.Broker
	table   *endpoint.Table
	plugins *Plugins
	hub     *events.Hub
	handler http.Handler
}

type deps func(*Deps)

func newFixture(t *testing.T, opts ...deps) *fixture {
	t.Helper()

	table := endpoint.NewTable()
	policy, err := auth.NewPolicy(nil)
	require.NoError(t, err)
	b := broker.New(table, broker.Options{Authorizer: policy, Logger: log.Discard()})

	hub := events.NewHub(32)
	loop := events.NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = loop.Run(ctx) }()

	bus := events.NewBus(b, hub, events.BackendVM)
	plugins := NewPlugins(b, policy, hub, 16)

	d := Deps{
		Router:     b,
		Plugins:    plugins,
		Loop:       loop,
		Dispatcher: loop.Serialized(bus),
		Hub:        hub,
		Gatherer:   prometheus.NewRegistry(),
	}
	for _, o := range opts {
		o(&d)
	}

	srv := New(Config{
		APIKey: "admin-key",
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopePluginsRO}},
			{Token: "operator", Scopes: []string{auth.ScopeEventsRW}},
		},
	}, d, log.Discard())

	return &fixture{broker: b, table: table, plugins: plugins, hub: hub, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postMessage(t *testing.T, origin string, env *protocol.Envelope) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := protocol.JSON.Encode(env)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/plugin/messages", bytes.NewReader(raw))
	req.Header.Set("Origin", origin)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	_, err := f.plugins.Attach("A", "https://a.example", nil)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Plugins)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t)
	reg := RegisterRequest{Title: "A", URL: "https://a.example"}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"missing token", http.MethodGet, "/admin/plugins", "", nil, http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/admin/plugins", "nope", nil, http.StatusUnauthorized},
		{"reader lists", http.MethodGet, "/admin/plugins", "reader", nil, http.StatusOK},
		{"reader cannot register", http.MethodPost, "/admin/plugins", "reader", reg, http.StatusForbidden},
		{"reader cannot focus", http.MethodPost, "/admin/focus", "reader", FocusRequest{Title: "A"}, http.StatusForbidden},
		{"operator cannot list", http.MethodGet, "/admin/plugins", "operator", nil, http.StatusForbidden},
		{"admin registers", http.MethodPost, "/admin/plugins", "admin-key", reg, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRegisterListUnregister(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/plugins", "admin-key",
		RegisterRequest{Title: "A", URL: "https://A.example/app/index.html", Allow: []string{"settings/*"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created PluginSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "https://a.example", created.Origin)
	assert.Equal(t, []string{"settings/*"}, created.Allow)

	rec = f.do(t, http.MethodGet, "/admin/plugins", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list PluginListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Plugins, 1)
	assert.Equal(t, "A", list.Plugins[0].Title)
	assert.True(t, list.Plugins[0].Streaming)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/admin/plugins/A", "admin-key", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/admin/plugins/A", "admin-key", nil).Code)
	assert.Empty(t, f.broker.Plugins())

	var types []string
	for _, a := range f.hub.SnapshotSince(0) {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{events.ActivityPluginRegistered, events.ActivityPluginUnregistered}, types)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	for _, req := range []RegisterRequest{
		{Title: "A", URL: "not a url"},
		{Title: "", URL: "https://a.example"},
		{Title: "A", URL: "https://a.example", Allow: []string{"settings"}},
	} {
		rec := f.do(t, http.MethodPost, "/admin/plugins", "admin-key", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%+v", req)
	}
	assert.Empty(t, f.broker.Plugins())
}

func TestPluginMessageAnsweredOnStream(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.table.Handle("cfg", "getConfig", endpoint.Exactly(0), endpoint.AccessRead,
		func(_ context.Context, call *endpoint.Call) {
			_ = call.Done.Resolve("hello " + call.Plugin)
		}))

	obA, err := f.plugins.Attach("A", "https://a.example", nil)
	require.NoError(t, err)
	obB, err := f.plugins.Attach("B", "https://b.example", nil)
	require.NoError(t, err)

	rec := f.postMessage(t, "https://a.example", protocol.NewRequest(7, "cfg", "getConfig"))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool { return len(obA.Since(0)) == 1 }, time.Second, 5*time.Millisecond)
	env, err := protocol.JSON.Decode(obA.Since(0)[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionResponse, env.Action)
	assert.Equal(t, uint64(7), env.ID)
	got, _ := env.Value[0].AsString()
	assert.Equal(t, "hello A", got)
	assert.Empty(t, obB.Since(0))
}

func TestUntrustedMessageLooksAccepted(t *testing.T) {
	f := newFixture(t)
	ob, err := f.plugins.Attach("A", "https://a.example", nil)
	require.NoError(t, err)

	rec := f.postMessage(t, "https://evil.example", protocol.NewRequest(1, "cfg", "getConfig"))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// A trusted message queued afterwards proves the first one was processed.
	rec = f.postMessage(t, "https://a.example", protocol.NewRequest(2, "cfg", "getConfig"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return len(ob.Since(0)) == 1 }, time.Second, 5*time.Millisecond)

	env, err := protocol.JSON.Decode(ob.Since(0)[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), env.ID)
	require.NotNil(t, env.Error)
	assert.Equal(t, protocol.CodeNotFound, env.Error.Code)
}

func TestPluginMessageTooLarge(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/plugin/messages", strings.NewReader(strings.Repeat("x", defaultMaxMessageSize+1)))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPluginStream(t *testing.T) {
	f := newFixture(t)
	_, err := f.plugins.Attach("A", "https://a.example", nil)
	require.NoError(t, err)

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	// Unknown origins get nothing.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/plugin/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://b.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	rec := f.do(t, http.MethodPost, "/admin/broadcast", "operator",
		BroadcastRequest{Key: "editor", Type: "currentFileChanged", Value: []protocol.Value{protocol.String("a.sol")}})
	require.Equal(t, http.StatusOK, rec.Code)
	var br BroadcastResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&br))
	assert.Equal(t, 1, br.Delivered)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/plugin/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://a.example")
	req.Header.Set("Last-Event-ID", "0")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := readSSEEvent(t, bufio.NewScanner(resp.Body))
	require.Len(t, lines, 3)
	assert.Equal(t, "id: 1", lines[0])
	assert.Equal(t, "event: message", lines[1])

	env, err := protocol.JSON.Decode([]byte(strings.TrimPrefix(lines[2], "data: ")))
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionNotification, env.Action)
	assert.Equal(t, "currentFileChanged", env.Type)
}

func TestFreshPluginStreamSkipsBacklog(t *testing.T) {
	f := newFixture(t)
	_, err := f.plugins.Attach("A", "https://a.example", nil)
	require.NoError(t, err)

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	broadcast := func(file string) {
		rec := f.do(t, http.MethodPost, "/admin/broadcast", "operator",
			BroadcastRequest{Key: "editor", Type: "currentFileChanged", Value: []protocol.Value{protocol.String(file)}})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	broadcast("old.sol")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/plugin/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://a.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	broadcast("new.sol")

	lines := readSSEEvent(t, bufio.NewScanner(resp.Body))
	require.Len(t, lines, 3)
	assert.Equal(t, "id: 2", lines[0])
	env, err := protocol.JSON.Decode([]byte(strings.TrimPrefix(lines[2], "data: ")))
	require.NoError(t, err)
	got, _ := env.Value[0].AsString()
	assert.Equal(t, "new.sol", got)
}

// readSSEEvent returns the lines of the next event, skipping comments.
func readSSEEvent(t *testing.T, scanner *bufio.Scanner) []string {
	t.Helper()
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ":") {
			continue
		}
		if line == "" {
			if len(lines) > 0 {
				break
			}
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func TestFocusAndHostEvents(t *testing.T) {
	f := newFixture(t)
	ob, err := f.plugins.Attach("A", "https://a.example", nil)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/admin/focus", "operator", FocusRequest{Title: "A"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fr FocusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fr))
	assert.Equal(t, "A", fr.Focused)

	frames := ob.Since(0)
	require.Len(t, frames, 1)
	env, err := protocol.JSON.Decode(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "focus", env.Type)

	rec = f.do(t, http.MethodPost, "/admin/events", "operator", events.HostEvent{Kind: events.KindFileChanged, Path: "b.sol"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, ob.Since(0), 2)

	rec = f.do(t, http.MethodPost, "/admin/events", "operator", events.HostEvent{Kind: "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/broadcast", "operator", BroadcastRequest{Key: "", Type: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeHistory struct {
	msgs []state.LoggedMessage
	err  error
}

func (h fakeHistory) Recent(_ context.Context, plugin string, limit int) ([]state.LoggedMessage, error) {
	if h.err != nil {
		return nil, h.err
	}
	var out []state.LoggedMessage
	for _, m := range h.msgs {
		if plugin == "" || m.Plugin == plugin {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/admin/messages", "reader", nil).Code)

	f = newFixture(t, func(d *Deps) {
		d.History = fakeHistory{msgs: []state.LoggedMessage{{Plugin: "A"}, {Plugin: "B"}, {Plugin: "A"}}}
	})
	rec := f.do(t, http.MethodGet, "/admin/messages?plugin=A&limit=1", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []state.LoggedMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Messages, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/admin/messages?limit=-2", "reader", nil).Code)

	f = newFixture(t, func(d *Deps) { d.History = fakeHistory{err: errors.New("db gone")} })
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodGet, "/admin/messages", "reader", nil).Code)
}

func TestAttachReapsDisplacedPlugin(t *testing.T) {
	f := newFixture(t)
	obA, err := f.plugins.Attach("A", "https://shared.example", nil)
	require.NoError(t, err)
	_, err = f.plugins.Attach("B", "https://shared.example/other", nil)
	require.NoError(t, err)

	assert.False(t, f.plugins.Streaming("A"))
	assert.True(t, f.plugins.Streaming("B"))

	ch, _ := obA.Subscribe()
	_, open := <-ch
	assert.False(t, open, "displaced outbox is closed")

	_, title, ok := f.plugins.Outbox("https://shared.example")
	require.True(t, ok)
	assert.Equal(t, "B", title)
}

func TestClient(t *testing.T) {
	f := newFixture(t)
	_, err := f.plugins.Attach("A", "https://a.example", nil)
	require.NoError(t, err)

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	c := NewClient(ts.URL+"/", "admin-key")
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Plugins)

	list, err := c.Plugins(ctx)
	require.NoError(t, err)
	require.Len(t, list.Plugins, 1)
	assert.Equal(t, "https://a.example", list.Plugins[0].Origin)

	_, err = NewClient(ts.URL, "wrong").Plugins(ctx)
	assert.ErrorContains(t, err, "401")

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := make(chan events.Activity, 4)
	go func() { _ = c.StreamActivity(streamCtx, 0, ch) }()

	select {
	case a := <-ch:
		assert.Equal(t, events.ActivityPluginRegistered, a.Type)
		assert.JSONEq(t, `{"title":"A","origin":"https://a.example"}`, string(a.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("no activity received")
	}
}
