package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowrt/internal/events"
	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

func newMachine(sink events.Sink) *machine.Machine {
	return machine.New(ir.Document{}, ir.UIState{Steps: []ir.Step{{Name: "a"}, {Name: "b"}}}, machine.WithSink(sink))
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(NewAPIHandler(), NewEventHandler(), NewPluginHandler(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{TypeAPI, TypeEvent, TypePlugin}, reg.Types())

	h, ok := reg.Handler(TypeEvent)
	require.True(t, ok)
	assert.Equal(t, TypeEvent, h.Type())

	_, ok = reg.Handler("definitionEvent")
	assert.False(t, ok)

	_, err = NewRegistry(NewEventHandler(), NewEventHandler())
	require.Error(t, err)
}

func TestAPIHandlerMergesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/entities/e1", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data": {"name": "Acme", "country": "DE"}}`)
	}))
	defer srv.Close()

	h := NewAPIHandler(WithHTTPClient(srv.Client()), WithBaseURL(srv.URL))
	doc := ir.Document{"entity": map[string]any{"id": "e1", "data": map[string]any{"dba": "A"}}}
	action := ir.Action{Type: TypeAPI, Payload: map[string]any{
		"url":          "/entities/e1",
		"headers":      map[string]any{"X-Token": "secret"},
		"fromResponse": "data",
		"resultPath":   "entity.data",
	}}

	out, err := h.Run(context.Background(), doc, action, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"dba": "A", "name": "Acme", "country": "DE"}, out["entity"].(map[string]any)["data"])
	_, touched := doc["entity"].(map[string]any)["data"].(map[string]any)["name"]
	assert.False(t, touched, "the input context is not mutated")
}

func TestAPIHandlerPostsTransformedBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"foo": 1}`)
	}))
	defer srv.Close()

	h := NewAPIHandler(WithHTTPClient(srv.Client()))
	doc := ir.Document{"entity": map[string]any{"name": "Acme", "secret": "x"}}
	action := ir.Action{Type: TypeAPI, Payload: map[string]any{
		"url":    srv.URL + "/submit",
		"toBody": "{name: entity.name}",
	}}

	out, err := h.Run(context.Background(), doc, action, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Acme"}, got)
	assert.Equal(t, 1.0, out["foo"])
}

func TestAPIHandlerNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	h := NewAPIHandler(WithHTTPClient(srv.Client()))
	_, err := h.Run(context.Background(), ir.Document{}, ir.Action{Type: TypeAPI, Payload: map[string]any{
		"url":    srv.URL,
		"method": "put",
		"body":   map[string]any{"a": 1},
	}}, nil)

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, http.MethodPut, statusErr.Method)
	assert.Equal(t, "upstream down", statusErr.Body)
}

func TestAPIHandlerPayloadErrors(t *testing.T) {
	h := NewAPIHandler()

	_, err := h.Run(context.Background(), ir.Document{}, ir.Action{Type: TypeAPI}, nil)
	require.Error(t, err)

	_, err = h.Run(context.Background(), ir.Document{}, ir.Action{Type: TypeAPI, Payload: map[string]any{
		"url":    "http://127.0.0.1:1",
		"toBody": "entity.[[",
	}}, nil)
	require.Error(t, err)
}

func TestEventHandlerSendsEvent(t *testing.T) {
	var got []events.Event
	m := newMachine(events.SinkFunc(func(_ context.Context, ev events.Event) error {
		got = append(got, ev)
		return nil
	}))

	doc := ir.Document{"foo": 1.0}
	out, err := NewEventHandler().Run(context.Background(), doc, ir.Action{Type: TypeEvent, Payload: map[string]any{
		"eventName": machine.EventNext,
		"payload":   map[string]any{"source": "button"},
	}}, m)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
	require.Len(t, got, 1)
	assert.Equal(t, "button", got[0].Payload["source"])
	assert.Equal(t, 1, m.UIState().CurrentStep)

	_, err = NewEventHandler().Run(context.Background(), doc, ir.Action{Type: TypeEvent}, m)
	require.Error(t, err)
}

func TestPluginHandler(t *testing.T) {
	plugins := NewPluginRegistry()
	require.NoError(t, plugins.Register("stamp", PluginFunc(func(_ context.Context, doc ir.Document, params map[string]any) (ir.Document, error) {
		return doc.Merge(map[string]any{"stamped": params["by"]}), nil
	})))
	require.Error(t, plugins.Register("stamp", PluginFunc(nil)))
	assert.Equal(t, []string{"stamp"}, plugins.Names())

	h := NewPluginHandler(plugins)
	out, err := h.Run(context.Background(), ir.Document{"a": 1.0}, ir.Action{Type: TypePlugin, Payload: map[string]any{
		"pluginName": "stamp",
		"params":     map[string]any{"by": "ops"},
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Document{"a": 1.0, "stamped": "ops"}, out)

	_, err = h.Run(context.Background(), ir.Document{}, ir.Action{Type: TypePlugin, Payload: map[string]any{"pluginName": "nope"}}, nil)
	var unknown *UnknownPluginError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nope", unknown.Name)
}

func TestScriptPluginReplacesContext(t *testing.T) {
	p, err := NewScriptPlugin("normalize", `
		function run(context, params) {
			var store = context.store || {};
			store.dba = (store.dba || "").toUpperCase();
			store.tags = [params.tag, 2];
			return { store: store, normalized: true };
		}
	`)
	require.NoError(t, err)

	doc := ir.Document{"store": map[string]any{"dba": "acme"}, "dropped": true}
	out, err := p.Run(context.Background(), doc, map[string]any{"tag": "x"})
	require.NoError(t, err)

	assert.Equal(t, ir.Document{
		"store":      map[string]any{"dba": "ACME", "tags": []any{"x", 2.0}},
		"normalized": true,
	}, out)
	assert.Equal(t, "acme", doc["store"].(map[string]any)["dba"], "the input is not mutated")
}

func TestScriptPluginErrors(t *testing.T) {
	_, err := NewScriptPlugin("bad", `function run( {`)
	require.Error(t, err)

	p, err := NewScriptPlugin("norun", `var x = 1;`)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), ir.Document{}, nil)
	require.Error(t, err)

	p, err = NewScriptPlugin("throws", `function run() { throw new Error("nope"); }`)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), ir.Document{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	p, err = NewScriptPlugin("empty", `function run() {}`)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), ir.Document{}, nil)
	require.Error(t, err)
}

func TestScriptPluginInterruptedOnCancel(t *testing.T) {
	p, err := NewScriptPlugin("spin", `function run() { for (;;) {} }`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Run(ctx, ir.Document{}, nil)
	require.ErrorIs(t, err, ErrScriptInterrupted)
}
