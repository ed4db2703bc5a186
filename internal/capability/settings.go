// Package capability provides the endpoint handlers the host exposes to
// plugins out of the box.
package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

const KeySettings = "settings"

// SettingsBackend stores one JSON object per plugin.
type SettingsBackend interface {
	Get(ctx context.Context, plugin string) (json.RawMessage, error)
	ShallowMerge(ctx context.Context, plugin string, updates json.RawMessage) (json.RawMessage, error)
}

// Settings exposes per-plugin settings. A plugin only ever sees its own.
type Settings struct {
	store SettingsBackend
}

func NewSettings(store SettingsBackend) *Settings {
	return &Settings{store: store}
}

// Register adds settings/getConfig and settings/setConfig to t.
func (s *Settings) Register(t *endpoint.Table) error {
	specs := []endpoint.Spec{
		{
			Key:         endpoint.Key{Key: KeySettings, Type: "getConfig"},
			Arity:       endpoint.Between(0, 1),
			Access:      endpoint.AccessRead,
			Description: "Return the caller's settings, or one setting by name.",
			Handler:     endpoint.HandlerFunc(s.getConfig),
		},
		{
			Key:         endpoint.Key{Key: KeySettings, Type: "setConfig"},
			Arity:       endpoint.Exactly(2),
			Access:      endpoint.AccessWrite,
			Description: "Set one of the caller's settings; null removes it.",
			Handler:     endpoint.HandlerFunc(s.setConfig),
		},
	}
	for _, spec := range specs {
		if err := t.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Settings) getConfig(ctx context.Context, call *endpoint.Call) {
	raw, err := s.store.Get(ctx, call.Plugin)
	if err != nil {
		_ = call.Done.Reject(err)
		return
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		_ = call.Done.Reject(err)
		return
	}

	if len(call.Args) == 0 {
		_ = call.Done.Resolve(raw)
		return
	}
	name, ok := call.Arg(0).AsString()
	if !ok {
		_ = call.Done.Reject(protocol.Errorf(protocol.CodeBadRequest, "setting name must be a string"))
		return
	}
	v, ok := all[name]
	if !ok {
		_ = call.Done.Resolve(nil)
		return
	}
	_ = call.Done.Resolve(v)
}

func (s *Settings) setConfig(ctx context.Context, call *endpoint.Call) {
	name, ok := call.Arg(0).AsString()
	if !ok || name == "" {
		_ = call.Done.Reject(protocol.Errorf(protocol.CodeBadRequest, "setting name must be a non-empty string"))
		return
	}

	update, err := json.Marshal(map[string]protocol.Value{name: call.Arg(1)})
	if err != nil {
		_ = call.Done.Reject(fmt.Errorf("encode setting: %w", err))
		return
	}
	merged, err := s.store.ShallowMerge(ctx, call.Plugin, update)
	if err != nil {
		_ = call.Done.Reject(err)
		return
	}
	_ = call.Done.Resolve(merged)
}
