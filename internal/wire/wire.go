// Package wire implements the daemon's length-prefixed JSON
// request/response framing: a 4-byte little-endian length prefix followed
// by that many bytes of a JSON request or response tree.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize bounds how large a single framed message may be, guarding
// the daemon against a misbehaving client sending a huge length prefix.
const MaxMessageSize = 4 << 20 // 4 MiB

// Request is the decoded shape of `{"request":{...}}`.
type Request struct {
	Name      string         `json:"name"`
	RequestID int64          `json:"requestId"`
	Params    map[string]any `json:"parameters"`
}

// requestEnvelope is the wire-level wrapper around a Request.
type requestEnvelope struct {
	Request Request `json:"request"`
}

// Response is the decoded shape of `{"response":{...}}`.
type Response struct {
	Name      string         `json:"name"`
	RequestID int64          `json:"requestId"`
	Status    statusField    `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
}

// statusField supports both the modern `{"value":N}` status shape and the
// legacy `"ok"`/`"failed"` string some verbs still use on the wire.
type statusField struct {
	Value    *int   `json:"value,omitempty"`
	Legacy   string `json:"-"`
	isLegacy bool
}

func (s statusField) MarshalJSON() ([]byte, error) {
	if s.isLegacy {
		return json.Marshal(s.Legacy)
	}
	return json.Marshal(struct {
		Value int `json:"value"`
	}{Value: *s.Value})
}

func (s *statusField) UnmarshalJSON(b []byte) error {
	var asString string
	if err := json.Unmarshal(b, &asString); err == nil {
		s.Legacy = asString
		s.isLegacy = true
		return nil
	}
	var asObj struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(b, &asObj); err != nil {
		return err
	}
	v := asObj.Value
	s.Value = &v
	return nil
}

// OK reports whether the response status indicates success, understanding
// both status shapes.
func (r *Response) OK() bool {
	if r.Status.isLegacy {
		return r.Status.Legacy == "ok"
	}
	return r.Status.Value != nil && *r.Status.Value == int(ErrCodeSuccess)
}

// Code returns the numeric error code the response carries, or
// ErrCodeGeneric for a legacy "failed" status.
func (r *Response) Code() ErrorCode {
	if r.Status.isLegacy {
		if r.Status.Legacy == "ok" {
			return ErrCodeSuccess
		}
		return ErrCodeGeneric
	}
	if r.Status.Value == nil {
		return ErrCodeGeneric
	}
	return ErrorCode(*r.Status.Value)
}

// NewSuccessResponse builds a response with status.value == 0.
func NewSuccessResponse(name string, requestID int64, data map[string]any) Response {
	zero := int(ErrCodeSuccess)
	return Response{Name: name, RequestID: requestID, Status: statusField{Value: &zero}, Data: data}
}

// NewErrorResponse builds a response whose status value is err's mapped
// error code, with the diagnostic under data["failed"].
func NewErrorResponse(name string, requestID int64, err error) Response {
	v := int(CodeFor(err))
	data := map[string]any{"failed": err.Error()}
	return Response{Name: name, RequestID: requestID, Status: statusField{Value: &v}, Data: data}
}

// NewLegacyFailedResponse builds the legacy-shaped `"status":"failed"`
// response the session writes when a request body cannot be parsed at all,
// echoing the raw input alongside the parse error.
func NewLegacyFailedResponse(diagnostic, rawInput string) Response {
	return Response{
		Name:   "failed",
		Status: statusField{Legacy: "failed", isLegacy: true},
		Data:   map[string]any{"failed": diagnostic, "request": rawInput},
	}
}

type responseEnvelope struct {
	Response Response `json:"response"`
}

// WriteRequest frames and writes req to w.
func WriteRequest(w io.Writer, req Request) error {
	return writeFramed(w, requestEnvelope{Request: req})
}

// ReadRequest reads one framed request from r.
func ReadRequest(r io.Reader) (Request, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	return ParseRequest(body)
}

// ReadFrame reads one length-prefixed message body from r without parsing
// it, so callers can treat transport errors and parse errors differently. A
// zero-length frame returns an empty body and no error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("wire: message of %d bytes exceeds %d byte limit", n, MaxMessageSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: read body: %w", err)
	}
	return body, nil
}

// ParseRequest decodes a request tree out of one frame's body.
func ParseRequest(body []byte) (Request, error) {
	var env requestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Request{}, fmt.Errorf("wire: unmarshal: %w", err)
	}
	return env.Request, nil
}

// WriteResponse frames and writes resp to w.
func WriteResponse(w io.Writer, resp Response) error {
	return writeFramed(w, responseEnvelope{Response: resp})
}

// ReadResponse reads one framed response from r.
func ReadResponse(r io.Reader) (Response, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Response{}, fmt.Errorf("wire: unmarshal: %w", err)
	}
	return env.Response, nil
}

func writeFramed(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	if len(body) > MaxMessageSize {
		return fmt.Errorf("wire: message of %d bytes exceeds %d byte limit", len(body), MaxMessageSize)
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}
