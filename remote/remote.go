// Package remote defines the request/response payload model exchanged
// over a connection. Every message is an envelope carrying a request
// kind and a serialized body; handlers are selected by kind, so new
// request types are added by defining a kind constant and a body struct
// and registering a handler for it.
package remote

import (
	"encoding/json"
	"fmt"
)

// Kind tags the body type of a request or response envelope.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindServerCheck
	KindConnectionSetup
	KindSetupAck
	KindHealthCheck
	KindInstance
	KindServiceQuery
	KindServiceList
	KindSubscribe
	KindClientBeat
	KindNotifySubscriber
	KindClientDetection
)

var kindNames = map[Kind]string{
	KindUnknown:          "Unknown",
	KindServerCheck:      "ServerCheck",
	KindConnectionSetup:  "ConnectionSetup",
	KindSetupAck:         "SetupAck",
	KindHealthCheck:      "HealthCheck",
	KindInstance:         "Instance",
	KindServiceQuery:     "ServiceQuery",
	KindServiceList:      "ServiceList",
	KindSubscribe:        "Subscribe",
	KindClientBeat:       "ClientBeat",
	KindNotifySubscriber: "NotifySubscriber",
	KindClientDetection:  "ClientDetection",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Request is the envelope for a unary request or a server-initiated push.
// Correlation with the matching response happens at the frame layer via
// the sequence id, not inside the envelope.
type Request struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// NewRequest builds a request envelope around a serialized body.
func NewRequest(kind Kind, body any) (*Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request body: %w", kind, err)
	}
	return &Request{Kind: kind, Body: raw}, nil
}

// Decode unpacks the request body into v.
func (r *Request) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s request body: %w", r.Kind, err)
	}
	return nil
}

// Response status codes.
const (
	CodeSuccess    = 200
	CodeBadRequest = 400
	CodeNotFound   = 404
	CodeBusy       = 429
	CodeFail       = 500
)

// Response is the envelope for the answer to a Request. A non-success
// code means the typed failure described by Message; Body is only set on
// success for kinds that return data.
type Response struct {
	Kind    Kind            `json:"kind"`
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// OK reports whether the response carries a success code.
func (r *Response) OK() bool {
	return r.Code == CodeSuccess
}

// NewResponse builds a success response with a serialized body.
func NewResponse(kind Kind, body any) (*Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s response body: %w", kind, err)
	}
	return &Response{Kind: kind, Code: CodeSuccess, Body: raw}, nil
}

// OKResponse builds an empty success response.
func OKResponse(kind Kind) *Response {
	return &Response{Kind: kind, Code: CodeSuccess}
}

// Errorf builds a typed failure response.
func Errorf(kind Kind, code int, format string, args ...any) *Response {
	return &Response{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Decode unpacks the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s response body: %w", r.Kind, err)
	}
	return nil
}

// Meta carries per-request metadata derived from the connection the
// request arrived on.
type Meta struct {
	ConnectionID  string
	ClientID      string
	ClientIP      string
	ClientVersion string
	Labels        map[string]string
}
