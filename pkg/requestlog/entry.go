package requestlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// Type classifies an entry.
type Type string

// Entry types.
const (
	TypeReceivedRequest       Type = "RECEIVED_REQUEST"
	TypeExpectationResponse   Type = "EXPECTATION_RESPONSE"
	TypeExpectationNotMatched Type = "EXPECTATION_NOT_MATCHED_RESPONSE"
	TypeForwardedRequest      Type = "FORWARDED_REQUEST"
	TypeTemplateGenerated     Type = "TEMPLATE_GENERATED"
	TypeException             Type = "EXCEPTION"
	TypeCreatedExpectation    Type = "CREATED_EXPECTATION"
	TypeRemovedExpectation    Type = "REMOVED_EXPECTATION"
	TypeCleared               Type = "CLEARED"
	TypeRetrieved             Type = "RETRIEVED"
	TypeVerification          Type = "VERIFICATION"
	TypeVerificationFailed    Type = "VERIFICATION_FAILED"
	TypeCallback              Type = "CALLBACK"
	TypeServerConfiguration   Type = "SERVER_CONFIGURATION"
)

// request reports whether entries of this type describe an inbound request
// that counts towards verification.
func (t Type) request() bool {
	switch t {
	case TypeReceivedRequest, TypeExpectationResponse, TypeExpectationNotMatched,
		TypeForwardedRequest, TypeTemplateGenerated, TypeException:
		return true
	default:
		return false
	}
}

// Entry is one logged event.
type Entry struct {
	ID            string              `json:"id"`
	Timestamp     time.Time           `json:"timestamp"`
	Type          Type                `json:"type"`
	Request       *model.HTTPRequest  `json:"httpRequest,omitempty"`
	Response      *model.HTTPResponse `json:"httpResponse,omitempty"`
	ExpectationID string              `json:"expectationId,omitempty"`
	Action        model.ActionType    `json:"action,omitempty"`
	Message       string              `json:"message,omitempty"`
	Error         string              `json:"error,omitempty"`
	DurationMs    int64               `json:"durationMs,omitempty"`
}

// String renders the entry as a human-readable log line.
func (e *Entry) String() string {
	if e.Message != "" && e.Request == nil {
		return e.Message
	}
	req := render(e.Request)
	resp := render(e.Response)
	switch e.Type {
	case TypeExpectationResponse:
		return fmt.Sprintf("returning response:%s for request:%s for action:%s", resp, req, e.Action)
	case TypeExpectationNotMatched:
		return fmt.Sprintf("no expectation for:%s returning response:%s", req, resp)
	case TypeForwardedRequest:
		return fmt.Sprintf("returning response:%s for forwarded request:%s", resp, req)
	case TypeException:
		return fmt.Sprintf("exception handling request:%s error:%s", req, e.Error)
	case TypeReceivedRequest:
		return fmt.Sprintf("received request:%s", req)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s request:%s", e.Type, req)
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Request = e.Request.Clone()
	c.Response = e.Response.Clone()
	return &c
}

func render(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
