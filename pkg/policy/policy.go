package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is evaluated against every generation request. It must evaluate to
// a set of denial messages; an empty or undefined set allows the request.
const Query = "data.atelier.generation.deny"

// Input is the document passed to policies as `input`
type Input struct {
	Tool     string       `json:"tool"`
	Mode     string       `json:"mode"`
	Params   model.Params `json:"params"`
	Variants []string     `json:"variants"`
	Images   []ImageInput `json:"images"`
}

type ImageInput struct {
	Slot     string `json:"slot"`
	MIMEType string `json:"mime_type"`
}

// Policy checks generation requests with Rego rules before any API call
type Policy struct {
	query *rego.PreparedEvalQuery
}

// printHook forwards Rego print() statements to the logger
type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Load reads all .rego files in policyDir. Without files it returns a
// policy that allows every request.
func Load(ctx context.Context, policyDir string) (*Policy, error) {
	if policyDir == "" {
		return &Policy{}, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", policyDir))
	}
	if len(files) == 0 {
		return &Policy{}, nil
	}

	sources := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		sources[file] = string(data)
	}

	return New(ctx, sources)
}

// New prepares a policy from Rego sources keyed by file name
func New(ctx context.Context, sources map[string]string) (*Policy, error) {
	if len(sources) == 0 {
		return &Policy{}, nil
	}

	options := []func(*rego.Rego){
		rego.Query(Query),
		rego.EnablePrintStatements(true),
	}
	for name, src := range sources {
		options = append(options, rego.Module(name, src))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy", goerr.V("query", Query))
	}

	return &Policy{query: &prepared}, nil
}

// Check fails with an error tagged model.TagValidation carrying the denial messages when
// any rule denies input
func (p *Policy) Check(ctx context.Context, input *Input) error {
	if p == nil || p.query == nil {
		return nil
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate policy", goerr.V("tool", input.Tool))
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return goerr.New("policy result is not a set", goerr.V("tool", input.Tool))
	}
	if len(values) == 0 {
		return nil
	}

	reasons := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		} else {
			reasons = append(reasons, fmt.Sprint(v))
		}
	}
	sort.Strings(reasons)

	return goerr.New("request is denied by policy: "+strings.Join(reasons, "; "), goerr.T(model.TagValidation),
		goerr.V("tool", input.Tool), goerr.V("reasons", reasons))
}
