package requestlog

import (
	"errors"
	"fmt"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// ErrInvalidVerification is returned for verifications with inconsistent bounds.
var ErrInvalidVerification = errors.New("invalid verification")

// VerificationTimes bounds how often a request must have been received.
// A nil AtLeast means 1; a nil AtMost means unbounded.
type VerificationTimes struct {
	AtLeast *int `json:"atLeast,omitempty"`
	AtMost  *int `json:"atMost,omitempty"`
}

// AtLeast returns bounds of at least n.
func AtLeast(n int) *VerificationTimes { return &VerificationTimes{AtLeast: &n} }

// AtMost returns bounds of at most n.
func AtMost(n int) *VerificationTimes { return &VerificationTimes{AtLeast: intPtr(0), AtMost: &n} }

// Exactly returns bounds of exactly n.
func Exactly(n int) *VerificationTimes { return &VerificationTimes{AtLeast: &n, AtMost: intPtr(n)} }

func intPtr(n int) *int { return &n }

func (t *VerificationTimes) bounds() (atLeast, atMost int) {
	atLeast, atMost = 1, -1
	if t == nil {
		return
	}
	if t.AtLeast != nil {
		atLeast = *t.AtLeast
	}
	if t.AtMost != nil {
		atMost = *t.AtMost
	}
	return
}

// Verification asks whether requests matching HTTPRequest were received
// within Times.
type Verification struct {
	HTTPRequest *model.HTTPRequest `json:"httpRequest"`
	Times       *VerificationTimes `json:"times,omitempty"`
}

// Validate checks the bounds.
func (v *Verification) Validate() error {
	atLeast, atMost := v.Times.bounds()
	if atLeast < 0 || (atMost >= 0 && atMost < atLeast) {
		return fmt.Errorf("%w: atLeast %d atMost %d", ErrInvalidVerification, atLeast, atMost)
	}
	return nil
}

// VerificationSequence asks whether requests matching each pattern were
// received in order.
type VerificationSequence struct {
	HTTPRequests []*model.HTTPRequest `json:"httpRequests"`
}

// Verify returns "" when v holds, or a failure message otherwise.
func (m *Memory) Verify(v Verification) string {
	all := m.Requests(nil)
	count := 0
	for _, r := range all {
		if m.matcher.Matches(r, v.HTTPRequest) {
			count++
		}
	}

	atLeast, atMost := v.Times.bounds()
	var failure string
	switch {
	case atMost >= 0 && atLeast == atMost && count != atLeast:
		failure = fmt.Sprintf("Request not found exactly %d times", atLeast)
	case count < atLeast:
		failure = fmt.Sprintf("Request not found at least %d times", atLeast)
	case atMost >= 0 && count > atMost:
		failure = fmt.Sprintf("Request not found at most %d times", atMost)
	}
	if failure == "" {
		m.Log(&Entry{Type: TypeVerification, Request: v.HTTPRequest.Clone(), Message: "request verified"})
		return ""
	}

	msg := fmt.Sprintf("%s, expected:<%s> but was:<%s>", failure, render(v.HTTPRequest), renderRequests(all))
	m.Log(&Entry{Type: TypeVerificationFailed, Message: msg})
	return msg
}

// VerifySequence returns "" when the patterns were matched by received
// requests in order, or a failure message otherwise.
func (m *Memory) VerifySequence(v VerificationSequence) string {
	all := m.Requests(nil)
	next := 0
	for _, pattern := range v.HTTPRequests {
		found := false
		for next < len(all) {
			r := all[next]
			next++
			if m.matcher.Matches(r, pattern) {
				found = true
				break
			}
		}
		if !found {
			msg := fmt.Sprintf("Request sequence not found, expected:<%s> but was:<%s>", render(v.HTTPRequests), render(all))
			m.Log(&Entry{Type: TypeVerificationFailed, Message: msg})
			return msg
		}
	}
	m.Log(&Entry{Type: TypeVerification, Message: "request sequence verified"})
	return ""
}

func renderRequests(all []*model.HTTPRequest) string {
	if len(all) == 1 {
		return render(all[0])
	}
	if all == nil {
		all = []*model.HTTPRequest{}
	}
	return render(all)
}
