package restore

import (
	"context"
	"maps"

	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/history"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
)

// ToolState is the editable state of a tool rebuilt from a history record.
// Inputs stay in persisted form and can be sent to the generation API as
// they are. Outputs are decoded and must be released by the caller.
type ToolState struct {
	Tool      string
	RecordID  model.RecordID
	Timestamp int64
	Params    model.Params
	Inputs    []*model.CallImage
	Outputs   []*Output
}

type Output struct {
	Tag   string
	Image *model.LiveImage
}

// Restore rebuilds the tool state of record from its persisted images only.
// Every image is checked by decoding it; a broken image fails this record
// with model.TagFormat.
func Restore(record *model.GenerationRecord) (*ToolState, error) {
	if record == nil {
		return nil, goerr.New("record is nil", goerr.T(model.TagValidation))
	}

	state := &ToolState{
		Tool:      record.Tool,
		RecordID:  record.ID,
		Timestamp: record.Timestamp,
		Params: model.Params{
			Prompt: record.Params.Prompt,
			Mode:   record.Params.Mode,
			Style:  record.Params.Style,
			Extra:  maps.Clone(record.Params.Extra),
		},
	}

	for i, in := range record.Inputs {
		if in == nil {
			continue
		}
		img, err := codec.Decode(in.Image)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to restore input image",
				goerr.V("id", record.ID), goerr.V("slot", in.Slot), goerr.V("index", i))
		}
		img.Release()
		state.Inputs = append(state.Inputs, &model.CallImage{Slot: in.Slot, Image: in.Image})
	}

	for i, out := range record.Outputs {
		if out == nil {
			continue
		}
		img, err := codec.Decode(out.Image)
		if err != nil {
			state.Release()
			return nil, goerr.Wrap(err, "failed to restore output image",
				goerr.V("id", record.ID), goerr.V("tag", out.Tag), goerr.V("index", i))
		}
		state.Outputs = append(state.Outputs, &Output{Tag: out.Tag, Image: img.WithName(out.Tag)})
	}

	return state, nil
}

// Load restores the record id from store
func Load(ctx context.Context, store *history.Store[*model.GenerationRecord], id string) (*ToolState, error) {
	record, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return Restore(record)
}

// Slots groups the inputs by slot name. A slot that had no image at
// generation time is absent from the map.
func (x *ToolState) Slots() map[string][]model.Image {
	slots := make(map[string][]model.Image)
	for _, in := range x.Inputs {
		slots[in.Slot] = append(slots[in.Slot], in.Image)
	}
	return slots
}

// Variants returns the output tags in generation order
func (x *ToolState) Variants() []string {
	tags := make([]string, 0, len(x.Outputs))
	for _, out := range x.Outputs {
		tags = append(tags, out.Tag)
	}
	return tags
}

// Request builds a generation request equal to the one that produced the
// record with def. Fan-out tools request the original output tags again;
// chain tools decide their steps from the inputs.
func (x *ToolState) Request(def *tool.Definition) *model.GenerationRequest {
	var variants []string
	if def.Mode != tool.ModeChain {
		variants = x.Variants()
	}

	req := &model.GenerationRequest{
		Params: model.Params{
			Prompt: x.Params.Prompt,
			Mode:   x.Params.Mode,
			Style:  x.Params.Style,
			Extra:  maps.Clone(x.Params.Extra),
		},
		Variants: variants,
	}
	for _, in := range x.Inputs {
		req.Inputs = append(req.Inputs, &model.CallImage{Slot: in.Slot, Image: in.Image})
	}
	return req
}

// Release frees the decoded output images
func (x *ToolState) Release() {
	for _, out := range x.Outputs {
		out.Image.Release()
	}
}
