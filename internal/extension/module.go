// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package extension

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"

	"github.com/modhaven/modhaven/pkg/message"
)

// Message types answered by the extension-management module.
const (
	MsgPluginsGetAll  = "PLUGINS_GET_ALL"
	MsgPluginsEnable  = "PLUGINS_ENABLE"
	MsgPluginsDisable = "PLUGINS_DISABLE"
)

// PluginInfo is the wire representation of one loaded extension.
type PluginInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// togglePayload is the request payload for enable/disable.
type togglePayload struct {
	ID string `json:"id"`
}

// Module exposes the extension runtime over the message protocol.
type Module struct {
	registry *Registry
}

// NewModule creates the extension-management message module.
func NewModule(registry *Registry) *Module {
	return &Module{registry: registry}
}

// Types returns the message types this module answers.
func (m *Module) Types() []string {
	return []string{MsgPluginsGetAll, MsgPluginsEnable, MsgPluginsDisable}
}

// HandleMessage routes one request by type.
func (m *Module) HandleMessage(_ context.Context, req *message.Request) *message.Response {
	switch req.Type {
	case MsgPluginsGetAll:
		return m.getAll(req)
	case MsgPluginsEnable:
		return m.setEnabled(req, true)
	case MsgPluginsDisable:
		return m.setEnabled(req, false)
	default:
		return message.Fail(req.ID, oops.Code(message.CodeUnknownType).
			With("type", req.Type).
			Errorf("unknown message type: %s", req.Type))
	}
}

func (m *Module) getAll(req *message.Request) *message.Response {
	regs := m.registry.Descriptors()
	infos := make([]PluginInfo, 0, len(regs))
	for _, reg := range regs {
		infos = append(infos, PluginInfo{
			ID:          reg.Descriptor.ID,
			Name:        reg.Descriptor.Name,
			Version:     reg.Descriptor.Version,
			Description: reg.Descriptor.Description,
			Author:      reg.Descriptor.Author,
			Enabled:     reg.Enabled,
		})
	}
	return message.Succeed(req.ID, infos)
}

func (m *Module) setEnabled(req *message.Request, enabled bool) *message.Response {
	var payload togglePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return message.Fail(req.ID, oops.Code(message.CodeMalformedRequest).
			Wrapf(err, "invalid payload"))
	}
	if payload.ID == "" {
		return message.Fail(req.ID, oops.Code(message.CodeMalformedRequest).
			Errorf("extension id is required"))
	}

	if err := m.registry.SetEnabled(payload.ID, enabled); err != nil {
		return message.Fail(req.ID, oops.Code(message.CodeNotFound).
			With("extension_id", payload.ID).
			Wrap(err))
	}
	return message.Succeed(req.ID, PluginInfo{ID: payload.ID, Enabled: enabled})
}
