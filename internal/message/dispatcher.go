// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package message implements the host's request router: a lookup from the
// request's type tag to a built-in module handler or to the extension that
// claimed the type.
package message

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/modhaven/modhaven/internal/observability"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/message"
)

var tracer = otel.Tracer("modhaven/message")

// ModuleHandler is the single entry point each functional module exposes.
type ModuleHandler interface {
	// Types returns the message types the module answers.
	Types() []string
	// HandleMessage processes one request. It never returns nil.
	HandleMessage(ctx context.Context, req *message.Request) *message.Response
}

// ExtensionResolver maps a message type to the enabled extension that
// claimed it. Implemented by the extension registry.
type ExtensionResolver interface {
	Resolve(msgType string) (extension.MessageHandler, string, bool)
}

// Dispatcher routes requests to module handlers and extension-owned
// message types. Every request yields exactly one response with a matching
// id, including on handler panic.
type Dispatcher struct {
	logger     *slog.Logger
	mu         sync.RWMutex
	modules    map[string]ModuleHandler // message type -> module handler
	moduleName map[string]string        // message type -> module name, for logs
	extensions ExtensionResolver
}

// NewDispatcher creates a dispatcher. The extension resolver may be nil
// until the extension runtime is running.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:     logger,
		modules:    make(map[string]ModuleHandler),
		moduleName: make(map[string]string),
	}
}

// RegisterModule installs a module's message types. Module claims are
// installed before any extension loads, so a type collision here is a host
// programming error and is rejected.
func (d *Dispatcher) RegisterModule(name string, h ModuleHandler) error {
	if h == nil {
		return oops.With("module", name).Errorf("module handler cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, msgType := range h.Types() {
		if owner, exists := d.moduleName[msgType]; exists {
			return oops.With("module", name).
				With("message_type", msgType).
				With("owner", owner).
				Errorf("message type already registered")
		}
		d.modules[msgType] = h
		d.moduleName[msgType] = name
	}
	return nil
}

// SetExtensionResolver wires the extension registry for extension-owned
// message types. Module types always take precedence over extension
// claims.
func (d *Dispatcher) SetExtensionResolver(r ExtensionResolver) {
	d.mu.Lock()
	d.extensions = r
	d.mu.Unlock()
}

// ModuleOwns reports whether a type is owned by a built-in module. Module
// types shadow extension claims, so claiming one is always a conflict.
func (d *Dispatcher) ModuleOwns(msgType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.modules[msgType]
	return ok
}

// Dispatch routes one request. It never returns nil and never panics: all
// handler outcomes are folded into the response envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request) (resp *message.Response) {
	if err := req.Validate(); err != nil {
		observability.RecordMessage("", "malformed")
		id := ""
		if req != nil {
			id = req.ID
		}
		return message.Fail(id, err)
	}

	ctx, span := tracer.Start(ctx, "message.dispatch",
		trace.WithAttributes(
			attribute.String("message.type", req.Type),
			attribute.String("message.id", req.ID),
		),
	)
	defer func() {
		if resp != nil && !resp.Success {
			span.SetStatus(codes.Error, resp.Error)
		}
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panicked",
				"message_type", req.Type,
				"request_id", req.ID,
				"panic", r)
			observability.RecordMessage(req.Type, "panic")
			resp = message.Fail(req.ID, oops.Code(message.CodeHandlerFailure).
				With("type", req.Type).
				Errorf("internal error handling message"))
		}
	}()

	d.mu.RLock()
	handler, isModule := d.modules[req.Type]
	moduleName := d.moduleName[req.Type]
	resolver := d.extensions
	d.mu.RUnlock()

	if isModule {
		span.SetAttributes(attribute.String("message.owner", moduleName))
		resp = handler.HandleMessage(ctx, req)
		if resp == nil {
			resp = message.Fail(req.ID, oops.Code(message.CodeHandlerFailure).
				With("module", moduleName).
				With("type", req.Type).
				Errorf("module returned no response"))
		}
		resp.ID = req.ID
		d.finish(req, resp)
		return resp
	}

	if resolver != nil {
		if mh, extID, ok := resolver.Resolve(req.Type); ok {
			span.SetAttributes(attribute.String("message.owner", "extension:"+extID))
			resp = d.callExtension(ctx, mh, extID, req)
			d.finish(req, resp)
			return resp
		}
	}

	observability.RecordMessage(req.Type, "unknown")
	resp = message.Fail(req.ID, oops.Code(message.CodeUnknownType).
		With("type", req.Type).
		Errorf("unknown message type: %s", req.Type))
	return resp
}

// callExtension invokes an extension handler, containing panics so an
// extension bug cannot leak into shared dispatch machinery. A nil response
// from a misbehaving extension is converted to an error envelope to keep
// the one-response invariant.
func (d *Dispatcher) callExtension(ctx context.Context, mh extension.MessageHandler, extID string, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("extension message handler panicked",
				"extension_id", extID,
				"message_type", req.Type,
				"request_id", req.ID,
				"panic", r)
			resp = message.Fail(req.ID, oops.Code(message.CodeExtensionFailure).
				With("extension_id", extID).
				With("type", req.Type).
				Errorf("extension failed handling message"))
		}
	}()

	resp = mh.HandleMessage(ctx, req)
	if resp == nil {
		resp = message.Fail(req.ID, oops.Code(message.CodeExtensionFailure).
			With("extension_id", extID).
			With("type", req.Type).
			Errorf("extension returned no response"))
	}
	// The envelope contract: the response answers this request.
	resp.ID = req.ID
	return resp
}

func (d *Dispatcher) finish(req *message.Request, resp *message.Response) {
	status := "ok"
	if resp == nil || !resp.Success {
		status = "error"
	}
	observability.RecordMessage(req.Type, status)
	if resp != nil && !resp.Success {
		d.logger.Warn("message handling failed",
			"message_type", req.Type,
			"request_id", req.ID,
			"error", resp.Error)
	}
}
