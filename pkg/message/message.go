// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package message defines the request/response envelope shared by every
// functional module and by message-handling extensions.
package message

import (
	"encoding/json"

	"github.com/samber/oops"
)

// Request is a routed message. Type selects the handler; Module and
// ProfileID are optional scoping hints carried through unchanged.
type Request struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Module    string          `json:"module,omitempty"`
	ProfileID string          `json:"profileId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the uniform outcome envelope. Every dispatched Request
// produces exactly one Response carrying the same ID.
type Response struct {
	ID           string          `json:"id"`
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorDetails map[string]any  `json:"errorDetails,omitempty"`
}

// Validate checks the fields a well-formed request must carry.
func (r *Request) Validate() error {
	if r == nil {
		return oops.Code(CodeMalformedRequest).Errorf("request is nil")
	}
	if r.ID == "" {
		return oops.Code(CodeMalformedRequest).Errorf("request id is required")
	}
	if r.Type == "" {
		return oops.Code(CodeMalformedRequest).With("request_id", r.ID).Errorf("request type is required")
	}
	return nil
}

// Error codes surfaced through Response.ErrorDetails["code"].
const (
	CodeMalformedRequest = "MALFORMED_REQUEST"
	CodeUnknownType      = "UNKNOWN_MESSAGE_TYPE"
	CodeExtensionFailure = "EXTENSION_FAILURE"
	CodeHandlerFailure   = "HANDLER_FAILURE"
	CodeNotFound         = "NOT_FOUND"
)

// Succeed builds a success response for the given request id. The value is
// marshaled to JSON; a marshal failure degrades into an error response so
// the caller still receives exactly one envelope.
func Succeed(id string, v any) *Response {
	if v == nil {
		return &Response{ID: id, Success: true}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Fail(id, oops.Code(CodeHandlerFailure).Wrapf(err, "marshal response data"))
	}
	return &Response{ID: id, Success: true, Data: data}
}

// Fail builds an error response for the given request id. Coded oops errors
// contribute their code and context to ErrorDetails.
func Fail(id string, err error) *Response {
	resp := &Response{ID: id, Success: false}
	if err == nil {
		resp.Error = "unknown error"
		return resp
	}
	resp.Error = err.Error()

	if oopsErr, ok := oops.AsOops(err); ok {
		details := make(map[string]any)
		if code := oopsErr.Code(); code != "" {
			details["code"] = code
		}
		for k, v := range oopsErr.Context() {
			details[k] = v
		}
		if len(details) > 0 {
			resp.ErrorDetails = details
		}
	}
	return resp
}
