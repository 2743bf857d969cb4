package template

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// ErrBadResult is returned when a template evaluates to something that is
// not a map or a JSON string.
var ErrBadResult = errors.New("template result must be an object or a JSON string")

// Env is the evaluation environment.
type Env struct {
	Request RequestEnv `expr:"request"`

	UUID         func() string         `expr:"uuid"`
	Now          func() string         `expr:"now"`
	NowMillis    func() int64          `expr:"nowMillis"`
	Base64Encode func(s string) string `expr:"base64Encode"`
	Base64Decode func(s string) string `expr:"base64Decode"`
}

// RequestEnv is the request as seen by templates.
type RequestEnv struct {
	Method    string              `expr:"method"`
	Path      string              `expr:"path"`
	Headers   map[string][]string `expr:"headers"`
	Query     map[string][]string `expr:"queryStringParameters"`
	Cookies   map[string]string   `expr:"cookies"`
	Body      string              `expr:"body"`
	JSON      interface{}         `expr:"json"`
	Secure    bool                `expr:"secure"`
	KeepAlive bool                `expr:"keepAlive"`
}

// Engine compiles and runs templates. It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
	now      func() time.Time
}

// New creates an Engine.
func New() *Engine {
	return &Engine{programs: make(map[string]*vm.Program), now: time.Now}
}

// Compile checks that source is a valid template.
func (e *Engine) Compile(source string) error {
	_, err := e.program(source)
	return err
}

// Response renders source into a response.
func (e *Engine) Response(source string, req *model.HTTPRequest) (*model.HTTPResponse, error) {
	return Run[model.HTTPResponse](e, source, req)
}

// Request renders source into a request, typically one to forward.
func (e *Engine) Request(source string, req *model.HTTPRequest) (*model.HTTPRequest, error) {
	return Run[model.HTTPRequest](e, source, req)
}

// Run evaluates source against req and decodes the result into a T.
func Run[T any](e *Engine, source string, req *model.HTTPRequest) (*T, error) {
	program, err := e.program(source)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, e.env(req))
	if err != nil {
		return nil, fmt.Errorf("eval template: %w", err)
	}

	var data []byte
	switch v := out.(type) {
	case string:
		data = []byte(v)
	case map[string]interface{}:
		if data, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("encode template result: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w, got %T", ErrBadResult, out)
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode template result: %w", err)
	}
	return &result, nil
}

func (e *Engine) program(source string) (*vm.Program, error) {
	e.mu.RLock()
	if program, ok := e.programs[source]; ok {
		e.mu.RUnlock()
		return program, nil
	}
	e.mu.RUnlock()

	program, err := expr.Compile(source, expr.Env(Env{}))
	if err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}

	e.mu.Lock()
	if existing, ok := e.programs[source]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.programs[source] = program
	e.mu.Unlock()
	return program, nil
}

func (e *Engine) env(req *model.HTTPRequest) Env {
	return Env{
		Request:   requestEnv(req),
		UUID:      uuid.NewString,
		Now:       func() string { return e.now().UTC().Format(time.RFC3339) },
		NowMillis: func() int64 { return e.now().UnixMilli() },
		Base64Encode: func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		},
		Base64Decode: func(s string) string {
			b, _ := base64.StdEncoding.DecodeString(s)
			return string(b)
		},
	}
}

func requestEnv(req *model.HTTPRequest) RequestEnv {
	if req == nil {
		return RequestEnv{}
	}
	env := RequestEnv{
		Method:  req.Method.Value,
		Path:    req.Path.Value,
		Headers: multiMap(req.Headers),
		Query:   multiMap(req.QueryStringParameters),
		Cookies: make(map[string]string, len(req.Cookies)),
		Body:    string(req.BodyBytes()),
		Secure:  req.IsSecure(),
	}
	if req.KeepAlive != nil {
		env.KeepAlive = *req.KeepAlive
	}
	for _, c := range req.Cookies {
		env.Cookies[c.Name.Value] = c.Value.Value
	}
	var doc interface{}
	if json.Unmarshal([]byte(env.Body), &doc) == nil {
		env.JSON = doc
	}
	return env
}

func multiMap(m model.KeyMultiValues) map[string][]string {
	out := make(map[string][]string, len(m))
	for _, e := range m {
		for _, v := range e.Values {
			out[e.Name.Value] = append(out[e.Name.Value], v.Value)
		}
		if _, ok := out[e.Name.Value]; !ok {
			out[e.Name.Value] = nil
		}
	}
	return out
}
