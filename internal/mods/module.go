// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package mods

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"

	"github.com/modhaven/modhaven/pkg/message"
)

// Message types answered by the mod catalog module.
const (
	MsgModsGetAll   = "MODS_GET_ALL"
	MsgModsImport   = "MODS_IMPORT"
	MsgModsDelete   = "MODS_DELETE"
	MsgModsEnable   = "MODS_ENABLE"
	MsgModsDisable  = "MODS_DISABLE"
	MsgModsSetTags  = "MODS_SET_TAGS"
	MsgModsClassify = "MODS_CLASSIFY"
	MsgModsRefresh  = "MODS_REFRESH"
)

// Module exposes the mod catalog over the message protocol.
type Module struct {
	service *Service
}

// NewModule creates the mod catalog message module.
func NewModule(service *Service) *Module {
	return &Module{service: service}
}

// Types returns the message types this module answers.
func (m *Module) Types() []string {
	return []string{
		MsgModsGetAll, MsgModsImport, MsgModsDelete,
		MsgModsEnable, MsgModsDisable,
		MsgModsSetTags, MsgModsClassify, MsgModsRefresh,
	}
}

type importPayload struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

type modIDPayload struct {
	ID string `json:"id"`
}

type tagsPayload struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

type classifyPayload struct {
	ID               string `json:"id"`
	ClassificationID string `json:"classificationId"`
	Remove           bool   `json:"remove,omitempty"`
}

// HandleMessage routes one request by type.
func (m *Module) HandleMessage(ctx context.Context, req *message.Request) *message.Response {
	switch req.Type {
	case MsgModsGetAll:
		list, err := m.service.List(ctx)
		if err != nil {
			return message.Fail(req.ID, err)
		}
		return message.Succeed(req.ID, list)

	case MsgModsImport:
		var p importPayload
		if err := m.decode(req, &p); err != nil {
			return message.Fail(req.ID, err)
		}
		if p.Path == "" {
			return message.Fail(req.ID, oops.Code(message.CodeMalformedRequest).Errorf("path is required"))
		}
		mod, err := m.service.Import(ctx, p.Path, p.Name)
		if err != nil {
			return message.Fail(req.ID, err)
		}
		return message.Succeed(req.ID, mod)

	case MsgModsDelete:
		p, err := m.modID(req)
		if err != nil {
			return message.Fail(req.ID, err)
		}
		if err := m.service.Delete(ctx, p); err != nil {
			return message.Fail(req.ID, err)
		}
		return message.Succeed(req.ID, nil)

	case MsgModsEnable, MsgModsDisable:
		p, err := m.modID(req)
		if err != nil {
			return message.Fail(req.ID, err)
		}
		mod, err := m.service.SetEnabled(ctx, p, req.Type == MsgModsEnable)
		if err != nil {
			return message.Fail(req.ID, err)
		}
		return message.Succeed(req.ID, mod)

	case MsgModsSetTags:
		var p tagsPayload
		if err := m.decode(req, &p); err != nil {
			return message.Fail(req.ID, err)
		}
		mod, err := m.service.SetTags(ctx, p.ID, p.Tags)
		if err != nil {
			return message.Fail(req.ID, err)
		}
		return message.Succeed(req.ID, mod)

	case MsgModsClassify:
		var p classifyPayload
		if err := m.decode(req, &p); err != nil {
			return message.Fail(req.ID, err)
		}
		var err error
		if p.Remove {
			err = m.service.Unclassify(ctx, p.ID, p.ClassificationID)
		} else {
			err = m.service.Classify(ctx, p.ID, p.ClassificationID)
		}
		if err != nil {
			return message.Fail(req.ID, err)
		}
		return message.Succeed(req.ID, nil)

	case MsgModsRefresh:
		list, err := m.service.Refresh(ctx)
		if err != nil {
			return message.Fail(req.ID, err)
		}
		return message.Succeed(req.ID, list)

	default:
		return message.Fail(req.ID, oops.Code(message.CodeUnknownType).
			With("type", req.Type).
			Errorf("unknown message type: %s", req.Type))
	}
}

func (m *Module) decode(req *message.Request, v any) error {
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return oops.Code(message.CodeMalformedRequest).Wrapf(err, "invalid payload")
	}
	return nil
}

func (m *Module) modID(req *message.Request) (string, error) {
	var p modIDPayload
	if err := m.decode(req, &p); err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", oops.Code(message.CodeMalformedRequest).Errorf("mod id is required")
	}
	return p.ID, nil
}
