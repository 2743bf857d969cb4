package callback

import (
	"encoding/json"
	"fmt"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// MessageType names the payload carried by a Message.
type MessageType string

// Message types exchanged with callback clients.
const (
	TypeClientIDRegistration MessageType = "ClientIdRegistration"
	TypeHTTPRequest          MessageType = "HttpRequest"
	TypeHTTPResponse         MessageType = "HttpResponse"
	TypeError                MessageType = "WebSocketError"
)

// Message is the envelope written to and read from a callback channel.
type Message struct {
	Type  MessageType     `json:"type"`
	Value json.RawMessage `json:"value"`
}

// ClientIDRegistration is sent to a client once its channel is registered.
type ClientIDRegistration struct {
	ClientID string `json:"clientId"`
}

// ErrorValue reports a failure for one correlation ID.
type ErrorValue struct {
	CorrelationID string `json:"correlationId"`
	Message       string `json:"message"`
}

// NewMessage wraps value in an envelope of the given type.
func NewMessage(t MessageType, value interface{}) (Message, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s: %w", t, err)
	}
	return Message{Type: t, Value: data}, nil
}

// RequestMessage tags req with correlationID and wraps it.
func RequestMessage(correlationID string, req *model.HTTPRequest) (Message, error) {
	tagged := req.Clone()
	if tagged == nil {
		tagged = model.Request()
	}
	tagged.Headers = tagged.Headers.With(model.CorrelationIDHeader, true, correlationID)
	return NewMessage(TypeHTTPRequest, tagged)
}

// ResponseMessage tags resp with correlationID and wraps it.
func ResponseMessage(correlationID string, resp *model.HTTPResponse) (Message, error) {
	tagged := resp.Clone()
	if tagged == nil {
		tagged = model.NotFound()
	}
	tagged.Headers = tagged.Headers.With(model.CorrelationIDHeader, true, correlationID)
	return NewMessage(TypeHTTPResponse, tagged)
}

// ErrorMessage wraps an ErrorValue.
func ErrorMessage(correlationID, text string) (Message, error) {
	return NewMessage(TypeError, ErrorValue{CorrelationID: correlationID, Message: text})
}

// Request decodes an HttpRequest payload.
func (m Message) Request() (*model.HTTPRequest, error) {
	if m.Type != TypeHTTPRequest {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedMessage, TypeHTTPRequest, m.Type)
	}
	var req model.HTTPRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// Response decodes an HttpResponse payload.
func (m Message) Response() (*model.HTTPResponse, error) {
	if m.Type != TypeHTTPResponse {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedMessage, TypeHTTPResponse, m.Type)
	}
	var resp model.HTTPResponse
	if err := json.Unmarshal(m.Value, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// CorrelationID extracts the correlation ID from any message kind.
func (m Message) CorrelationID() (string, error) {
	switch m.Type {
	case TypeHTTPRequest:
		req, err := m.Request()
		if err != nil {
			return "", err
		}
		return req.Headers.First(model.CorrelationIDHeader, true), nil
	case TypeHTTPResponse:
		resp, err := m.Response()
		if err != nil {
			return "", err
		}
		return resp.Headers.First(model.CorrelationIDHeader, true), nil
	case TypeError:
		var ev ErrorValue
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return "", fmt.Errorf("failed to decode error: %w", err)
		}
		return ev.CorrelationID, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnexpectedMessage, m.Type)
	}
}
