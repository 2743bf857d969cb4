package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0x1a0b/mockserver-sub001/pkg/cli/internal/parse"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// patternFlags builds a request pattern from command-line flags or a JSON
// file holding an httpRequest object.
type patternFlags struct {
	method  string
	path    string
	headers []string
	query   []string
	body    string
	file    string
}

func (p *patternFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&p.method, "method", "m", "", "Match the request method (prefix with ! to negate)")
	f.StringVar(&p.path, "path", "", "Match the request path")
	f.StringArrayVarP(&p.headers, "header", "H", nil, "Match a header as name:value (repeatable)")
	f.StringArrayVarP(&p.query, "query", "q", nil, "Match a query parameter as name=value (repeatable)")
	f.StringVar(&p.body, "body", "", "Match requests whose body contains this text")
	f.StringVar(&p.file, "request-file", "", "Read the request pattern from a JSON file")
}

// build returns nil when no pattern flag was given, which selects everything.
func (p *patternFlags) build() (*model.HTTPRequest, error) {
	if p.file != "" {
		data, err := os.ReadFile(p.file)
		if err != nil {
			return nil, fmt.Errorf("read request pattern: %w", err)
		}
		var req model.HTTPRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p.file, err)
		}
		return &req, nil
	}
	if p.method == "" && p.path == "" && len(p.headers) == 0 && len(p.query) == 0 && p.body == "" {
		return nil, nil
	}

	req := model.Request()
	if p.method != "" {
		req.WithMethod(p.method)
	}
	if p.path != "" {
		req.WithPath(p.path)
	}
	headers, err := parse.Pairs(p.headers, ':')
	if err != nil {
		return nil, fmt.Errorf("--header: %w", err)
	}
	query, err := parse.Pairs(p.query, '=')
	if err != nil {
		return nil, fmt.Errorf("--query: %w", err)
	}
	req.Headers = headers
	req.QueryStringParameters = query
	if p.body != "" {
		req.WithBody(model.SubStringBody(p.body))
	}
	return req, nil
}
