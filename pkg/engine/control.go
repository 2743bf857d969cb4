package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/0x1a0b/mockserver-sub001/pkg/expectation"
	"github.com/0x1a0b/mockserver-sub001/pkg/httputil"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
	"github.com/0x1a0b/mockserver-sub001/pkg/requestlog"
)

// Control plane paths.
const (
	ControlPrefix = "/mockserver"
	CallbackPath  = "/_mockserver_callback_websocket"
)

// Control operations, served under ControlPrefix and unprefixed.
var controlOps = []string{
	"expectation", "clear", "reset", "retrieve", "verify", "verifySequence", "status", "stop",
}

var controlPaths = func() map[string]struct{} {
	m := make(map[string]struct{}, 2*len(controlOps))
	for _, op := range controlOps {
		m["/"+op] = struct{}{}
		m[ControlPrefix+"/"+op] = struct{}{}
	}
	return m
}()

// Clear types.
const (
	clearAll          = "all"
	clearLog          = "log"
	clearExpectations = "expectations"
)

// Retrieve types and formats.
const (
	retrieveActive           = "active_expectations"
	retrieveRecorded         = "recorded_expectations"
	retrieveRequests         = "requests"
	retrieveRequestResponses = "request_responses"
	retrieveLogs             = "logs"

	formatJSON       = "json"
	formatLogEntries = "log_entries"
)

// logSeparator divides entries in the plain text log format.
const logSeparator = "------------------------------------\n"

// isControl selects requests answered by the control plane rather than the
// dispatcher. Absolute-form requests are proxy traffic and never match.
func isControl(r *http.Request) bool {
	if r.URL.IsAbs() {
		return false
	}
	if r.URL.Path == CallbackPath {
		return true
	}
	if r.Method != http.MethodPut {
		return false
	}
	_, ok := controlPaths[r.URL.Path]
	return ok
}

func (s *Server) controlHandler() http.Handler {
	mux := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"expectation":    s.handleExpectation,
		"clear":          s.handleClear,
		"reset":          s.handleReset,
		"retrieve":       s.handleRetrieve,
		"verify":         s.handleVerify,
		"verifySequence": s.handleVerifySequence,
		"status":         s.handleStatus,
		"stop":           s.handleStop,
	}
	for _, op := range controlOps {
		mux.HandleFunc("PUT "+ControlPrefix+"/"+op, routes[op])
		mux.HandleFunc("PUT /"+op, routes[op])
	}
	mux.HandleFunc("GET "+CallbackPath, s.handleCallbackSocket)
	return mux
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, code, message string) {
	httputil.WriteError(w, status, code, message)
}

func (s *Server) body(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := httputil.ReadBody(w, r, s.cfg.MaxBodySize)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		}
		return nil, false
	}
	return data, true
}

// pattern decodes an optional request pattern from the body.
func (s *Server) pattern(w http.ResponseWriter, r *http.Request) (*model.HTTPRequest, bool) {
	data, ok := s.body(w, r)
	if !ok {
		return nil, false
	}
	var pattern model.HTTPRequest
	found, err := httputil.DecodeJSON(data, &pattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return nil, false
	}
	if !found {
		return nil, true
	}
	if err := s.store.Matcher().Compile(&pattern); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_matcher", err.Error())
		return nil, false
	}
	return &pattern, true
}

func (s *Server) handleExpectation(w http.ResponseWriter, r *http.Request) {
	data, ok := s.body(w, r)
	if !ok {
		return
	}
	exps, err := model.ParseExpectations(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "incorrect expectation json format: "+err.Error())
		return
	}
	stored, err := s.store.Add(expectation.CauseAPI, exps...)
	if err != nil {
		code := "invalid_expectation"
		if !errors.Is(err, model.ErrInvalidExpectation) {
			code = "invalid_request_matcher"
		}
		writeError(w, http.StatusBadRequest, code, err.Error())
		return
	}
	for _, exp := range stored {
		s.events.Log(&requestlog.Entry{
			Type:          requestlog.TypeCreatedExpectation,
			Request:       exp.HTTPRequest.Clone(),
			ExpectationID: exp.ID,
			Action:        exp.ActionType(),
			Message:       "creating expectation " + exp.ID,
		})
	}
	httputil.WriteJSON(w, http.StatusCreated, list(stored))
}

// clearReference selects a single expectation by ID.
type clearReference struct {
	ID string `json:"id"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	typ := strings.ToLower(r.URL.Query().Get("type"))
	if typ == "" {
		typ = clearAll
	}
	if typ != clearAll && typ != clearLog && typ != clearExpectations {
		writeError(w, http.StatusBadRequest, "invalid_type", fmt.Sprintf("clear type %q must be all, log or expectations", typ))
		return
	}

	data, ok := s.body(w, r)
	if !ok {
		return
	}
	var ref clearReference
	if _, err := httputil.DecodeJSON(data, &ref); err == nil && ref.ID != "" {
		removed := 0
		if typ != clearLog && s.store.Remove(ref.ID, expectation.CauseAPI) {
			removed = 1
		}
		s.events.Log(&requestlog.Entry{
			Type:          requestlog.TypeCleared,
			ExpectationID: ref.ID,
			Message:       fmt.Sprintf("cleared expectation %s (%d removed)", ref.ID, removed),
		})
		w.WriteHeader(http.StatusOK)
		return
	}

	var pattern *model.HTTPRequest
	if len(strings.TrimSpace(string(data))) > 0 {
		var p model.HTTPRequest
		if _, err := httputil.DecodeJSON(data, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		if err := s.store.Matcher().Compile(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_matcher", err.Error())
			return
		}
		pattern = &p
	}

	var expectations, entries int
	if typ != clearLog {
		expectations = s.store.Clear(pattern, expectation.CauseAPI)
	}
	if typ != clearExpectations {
		entries = s.events.Clear(pattern)
	}
	s.events.Log(&requestlog.Entry{
		Type:    requestlog.TypeCleared,
		Request: pattern.Clone(),
		Message: fmt.Sprintf("cleared %d expectations and %d log entries", expectations, entries),
	})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	expectations := s.store.Reset(expectation.CauseAPI)
	entries := s.events.Clear(nil)
	s.log.Info("reset", "expectations", expectations, "logEntries", entries)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ := strings.ToLower(q.Get("type"))
	if typ == "" {
		typ = retrieveRequests
	}
	format := strings.ToLower(q.Get("format"))
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatLogEntries {
		writeError(w, http.StatusBadRequest, "invalid_format", fmt.Sprintf("retrieve format %q must be json or log_entries", format))
		return
	}

	pattern, ok := s.pattern(w, r)
	if !ok {
		return
	}

	var result any
	switch typ {
	case retrieveActive:
		result = list(s.store.Retrieve(pattern))
	case retrieveRecorded:
		result = list(s.events.RecordedExpectations(pattern))
	case retrieveRequests:
		result = list(s.events.Requests(pattern))
	case retrieveRequestResponses:
		result = list(s.events.RequestResponses(pattern))
	case retrieveLogs:
		if format == formatLogEntries {
			result = list(s.events.Entries(pattern))
			break
		}
		s.logRetrieved(typ, pattern)
		lines := s.events.Messages(pattern)
		text := ""
		for i, line := range lines {
			if i > 0 {
				text += logSeparator
			}
			text += line + "\n"
		}
		httputil.WriteText(w, http.StatusOK, text)
		return
	default:
		writeError(w, http.StatusBadRequest, "invalid_type", fmt.Sprintf("retrieve type %q is not supported", typ))
		return
	}
	s.logRetrieved(typ, pattern)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) logRetrieved(typ string, pattern *model.HTTPRequest) {
	s.events.Log(&requestlog.Entry{
		Type:    requestlog.TypeRetrieved,
		Request: pattern.Clone(),
		Message: "retrieved " + typ,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	data, ok := s.body(w, r)
	if !ok {
		return
	}
	var v requestlog.Verification
	found, err := httputil.DecodeJSON(data, &v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if !found || v.HTTPRequest == nil {
		writeError(w, http.StatusBadRequest, "invalid_verification", "verification requires httpRequest")
		return
	}
	if err := v.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_verification", err.Error())
		return
	}
	if err := s.store.Matcher().Compile(v.HTTPRequest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_matcher", err.Error())
		return
	}
	if msg := s.events.Verify(v); msg != "" {
		httputil.WriteText(w, http.StatusNotAcceptable, msg)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVerifySequence(w http.ResponseWriter, r *http.Request) {
	data, ok := s.body(w, r)
	if !ok {
		return
	}
	var v requestlog.VerificationSequence
	if _, err := httputil.DecodeJSON(data, &v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	for _, p := range v.HTTPRequests {
		if p == nil {
			writeError(w, http.StatusBadRequest, "invalid_verification", "httpRequests must not contain null")
			return
		}
		if err := s.store.Matcher().Compile(p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_matcher", err.Error())
			return
		}
	}
	if msg := s.events.VerifySequence(v); msg != "" {
		httputil.WriteText(w, http.StatusNotAcceptable, msg)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Status is the body returned by the status endpoint.
type Status struct {
	Ports []int `json:"ports"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, Status{Ports: s.Ports()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.log.Info("stop requested", "remote", r.RemoteAddr)
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	s.stopSoon()
}

func list[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
