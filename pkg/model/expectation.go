package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Expectation pairs a request template with one action and a usage budget.
type Expectation struct {
	ID          string       `json:"id,omitempty"`
	HTTPRequest *HTTPRequest `json:"httpRequest,omitempty"`
	Times       *Times       `json:"times,omitempty"`
	TimeToLive  *TimeToLive  `json:"timeToLive,omitempty"`

	HTTPResponse                 *HTTPResponse                 `json:"httpResponse,omitempty"`
	HTTPResponseTemplate         *HTTPTemplate                 `json:"httpResponseTemplate,omitempty"`
	HTTPResponseClassCallback    *HTTPClassCallback            `json:"httpResponseClassCallback,omitempty"`
	HTTPResponseObjectCallback   *HTTPObjectCallback           `json:"httpResponseObjectCallback,omitempty"`
	HTTPForward                  *HTTPForward                  `json:"httpForward,omitempty"`
	HTTPForwardTemplate          *HTTPTemplate                 `json:"httpForwardTemplate,omitempty"`
	HTTPForwardClassCallback     *HTTPClassCallback            `json:"httpForwardClassCallback,omitempty"`
	HTTPForwardObjectCallback    *HTTPObjectCallback           `json:"httpForwardObjectCallback,omitempty"`
	HTTPOverrideForwardedRequest *HTTPOverrideForwardedRequest `json:"httpOverrideForwardedRequest,omitempty"`
	HTTPError                    *HTTPError                    `json:"httpError,omitempty"`
}

// When starts an expectation for the given request template. The
// expectation matches without limit until an action and budget are set.
func When(req *HTTPRequest) *Expectation {
	return &Expectation{HTTPRequest: req, Times: Unlimited(), TimeToLive: UnlimitedTTL()}
}

// WithTimes sets the usage budget.
func (e *Expectation) WithTimes(t *Times) *Expectation {
	e.Times = t
	return e
}

// WithTTL sets the time-to-live.
func (e *Expectation) WithTTL(t *TimeToLive) *Expectation {
	e.TimeToLive = t
	return e
}

// Respond sets a static response action.
func (e *Expectation) Respond(r *HTTPResponse) *Expectation {
	e.HTTPResponse = r
	return e
}

// Forward sets a forward action.
func (e *Expectation) Forward(f *HTTPForward) *Expectation {
	e.HTTPForward = f
	return e
}

// ActionType returns the kind of the configured action, or "" when none is set.
// Precedence follows declaration order; validation rejects more than one.
func (e *Expectation) ActionType() ActionType {
	switch {
	case e.HTTPResponse != nil:
		return ActionResponse
	case e.HTTPResponseTemplate != nil:
		return ActionResponseTemplate
	case e.HTTPResponseClassCallback != nil:
		return ActionResponseClassCallback
	case e.HTTPResponseObjectCallback != nil:
		return ActionResponseObjectCallback
	case e.HTTPForward != nil:
		return ActionForward
	case e.HTTPForwardTemplate != nil:
		return ActionForwardTemplate
	case e.HTTPForwardClassCallback != nil:
		return ActionForwardClassCallback
	case e.HTTPForwardObjectCallback != nil:
		return ActionForwardObjectCallback
	case e.HTTPOverrideForwardedRequest != nil:
		return ActionForwardReplace
	case e.HTTPError != nil:
		return ActionError
	default:
		return ""
	}
}

// ActionDelay returns the delay declared on the configured action.
func (e *Expectation) ActionDelay() time.Duration {
	switch e.ActionType() {
	case ActionResponse:
		return e.HTTPResponse.Delay.Duration()
	case ActionResponseTemplate:
		return e.HTTPResponseTemplate.Delay.Duration()
	case ActionResponseClassCallback:
		return e.HTTPResponseClassCallback.Delay.Duration()
	case ActionResponseObjectCallback:
		return e.HTTPResponseObjectCallback.Delay.Duration()
	case ActionForward:
		return e.HTTPForward.Delay.Duration()
	case ActionForwardTemplate:
		return e.HTTPForwardTemplate.Delay.Duration()
	case ActionForwardClassCallback:
		return e.HTTPForwardClassCallback.Delay.Duration()
	case ActionForwardObjectCallback:
		return e.HTTPForwardObjectCallback.Delay.Duration()
	case ActionForwardReplace:
		return e.HTTPOverrideForwardedRequest.Delay.Duration()
	case ActionError:
		return e.HTTPError.Delay.Duration()
	default:
		return 0
	}
}

// EnsureID assigns a random ID when none is set.
func (e *Expectation) EnsureID() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
}

// Clone performs a deep copy.
func (e *Expectation) Clone() *Expectation {
	if e == nil {
		return nil
	}
	c := *e
	c.HTTPRequest = e.HTTPRequest.Clone()
	c.Times = e.Times.Clone()
	c.TimeToLive = e.TimeToLive.Clone()
	c.HTTPResponse = e.HTTPResponse.Clone()
	c.HTTPResponseTemplate = cloneTemplate(e.HTTPResponseTemplate)
	c.HTTPResponseClassCallback = cloneClassCallback(e.HTTPResponseClassCallback)
	c.HTTPResponseObjectCallback = cloneObjectCallback(e.HTTPResponseObjectCallback)
	c.HTTPForwardTemplate = cloneTemplate(e.HTTPForwardTemplate)
	c.HTTPForwardClassCallback = cloneClassCallback(e.HTTPForwardClassCallback)
	c.HTTPForwardObjectCallback = cloneObjectCallback(e.HTTPForwardObjectCallback)
	if e.HTTPForward != nil {
		f := *e.HTTPForward
		f.Delay = cloneDelay(f.Delay)
		c.HTTPForward = &f
	}
	if e.HTTPOverrideForwardedRequest != nil {
		o := *e.HTTPOverrideForwardedRequest
		o.HTTPRequest = o.HTTPRequest.Clone()
		o.Delay = cloneDelay(o.Delay)
		c.HTTPOverrideForwardedRequest = &o
	}
	if e.HTTPError != nil {
		he := *e.HTTPError
		he.ResponseBytes = append([]byte(nil), he.ResponseBytes...)
		he.Delay = cloneDelay(he.Delay)
		c.HTTPError = &he
	}
	return &c
}

func cloneDelay(d *Delay) *Delay {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func cloneTemplate(t *HTTPTemplate) *HTTPTemplate {
	if t == nil {
		return nil
	}
	c := *t
	c.Delay = cloneDelay(t.Delay)
	return &c
}

func cloneClassCallback(cb *HTTPClassCallback) *HTTPClassCallback {
	if cb == nil {
		return nil
	}
	c := *cb
	c.Delay = cloneDelay(cb.Delay)
	return &c
}

func cloneObjectCallback(cb *HTTPObjectCallback) *HTTPObjectCallback {
	if cb == nil {
		return nil
	}
	c := *cb
	c.Delay = cloneDelay(cb.Delay)
	return &c
}

// ParseExpectations decodes a single expectation object or an array.
func ParseExpectations(data []byte) ([]*Expectation, error) {
	trimmed := trimLeft(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []*Expectation
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one Expectation
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []*Expectation{&one}, nil
}

func trimLeft(data []byte) []byte {
	for i, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return data[i:]
	}
	return nil
}
