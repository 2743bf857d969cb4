package matching

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/ohler55/ojg/jp"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledCache memoizes compiled patterns keyed by their source text.
// Compile failures are cached too, so a bad pattern is only parsed once.
type compiledCache struct {
	mu      sync.RWMutex
	regexps map[string]regexpEntry
	schemas map[string]schemaEntry
	jpaths  map[string]jpathEntry
	xpaths  map[string]xpathEntry
}

type regexpEntry struct {
	re  *regexp.Regexp
	err error
}

type schemaEntry struct {
	schema *jsonschema.Schema
	err    error
}

type jpathEntry struct {
	expr jp.Expr
	err  error
}

type xpathEntry struct {
	path etree.Path
	err  error
}

func newCompiledCache() *compiledCache {
	return &compiledCache{
		regexps: make(map[string]regexpEntry),
		schemas: make(map[string]schemaEntry),
		jpaths:  make(map[string]jpathEntry),
		xpaths:  make(map[string]xpathEntry),
	}
}

// regexp compiles pattern anchored at both ends.
func (c *compiledCache) regexp(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	e, ok := c.regexps[pattern]
	c.mu.RUnlock()
	if ok {
		return e.re, e.err
	}

	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	c.mu.Lock()
	c.regexps[pattern] = regexpEntry{re: re, err: err}
	c.mu.Unlock()
	return re, err
}

func (c *compiledCache) schema(doc string) (*jsonschema.Schema, error) {
	c.mu.RLock()
	e, ok := c.schemas[doc]
	c.mu.RUnlock()
	if ok {
		return e.schema, e.err
	}

	schema, err := compileSchema(doc)
	c.mu.Lock()
	c.schemas[doc] = schemaEntry{schema: schema, err: err}
	c.mu.Unlock()
	return schema, err
}

func (c *compiledCache) jsonPath(path string) (jp.Expr, error) {
	c.mu.RLock()
	e, ok := c.jpaths[path]
	c.mu.RUnlock()
	if ok {
		return e.expr, e.err
	}

	expr, err := jp.ParseString(path)
	c.mu.Lock()
	c.jpaths[path] = jpathEntry{expr: expr, err: err}
	c.mu.Unlock()
	return expr, err
}

func (c *compiledCache) xpath(path string) (etree.Path, error) {
	c.mu.RLock()
	e, ok := c.xpaths[path]
	c.mu.RUnlock()
	if ok {
		return e.path, e.err
	}

	p, err := etree.CompilePath(path)
	c.mu.Lock()
	c.xpaths[path] = xpathEntry{path: p, err: err}
	c.mu.Unlock()
	return p, err
}

func compileSchema(doc string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return compiler.Compile("schema.json")
}
