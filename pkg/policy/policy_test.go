package policy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/policy"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

const denyPolicy = `package atelier.generation

deny contains "prompt mentions a brand" if {
	contains(lower(input.params.prompt), "acme")
}

deny contains msg if {
	some img in input.images
	img.mime_type == "image/gif"
	msg := sprintf("gif is not allowed for %s", [img.slot])
}
`

func TestCheck(t *testing.T) {
	ctx := context.Background()
	p, err := policy.New(ctx, map[string]string{"deny.rego": denyPolicy})
	gt.NoError(t, err)

	gt.NoError(t, p.Check(ctx, &policy.Input{
		Tool:   "studio",
		Params: model.Params{Prompt: "on a marble table"},
		Images: []policy.ImageInput{{Slot: "product", MIMEType: "image/png"}},
	}))

	err = p.Check(ctx, &policy.Input{
		Tool:   "studio",
		Params: model.Params{Prompt: "ACME logo"},
		Images: []policy.ImageInput{{Slot: "product", MIMEType: "image/gif"}},
	})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.TagValidation))

	var gErr *goerr.Error
	gt.True(t, errors.As(err, &gErr))
	gt.Equal(t, gErr.Values()["reasons"], any([]string{"gif is not allowed for product", "prompt mentions a brand"}))
	gt.S(t, err.Error()).Contains("gif is not allowed for product")
}

func TestEmptyPolicyAllows(t *testing.T) {
	ctx := context.Background()

	p, err := policy.Load(ctx, "")
	gt.NoError(t, err)
	gt.NoError(t, p.Check(ctx, &policy.Input{Tool: "studio"}))

	p, err = policy.Load(ctx, t.TempDir())
	gt.NoError(t, err)
	gt.NoError(t, p.Check(ctx, &policy.Input{Tool: "studio"}))

	var nilPolicy *policy.Policy
	gt.NoError(t, nilPolicy.Check(ctx, &policy.Input{Tool: "studio"}))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "deny.rego"), []byte(denyPolicy), 0o644))

	p, err := policy.Load(ctx, dir)
	gt.NoError(t, err)

	err = p.Check(ctx, &policy.Input{Tool: "composer", Params: model.Params{Prompt: "acme"}})
	gt.True(t, goerr.HasTag(err, model.TagValidation))
}

func TestLoadBrokenPolicy(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package atelier.generation\n\ndeny contains"), 0o644))

	_, err := policy.Load(context.Background(), dir)
	gt.Error(t, err)
}
