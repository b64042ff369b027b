package generation

import (
	"context"
	"time"

	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/policy"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/atelier/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of a successful generation
type Result struct {
	Record *model.GenerationRecord
	// StorageWarning is set when the record could not be saved to history.
	// The generation itself succeeded.
	StorageWarning error
}

// Final returns the last output: the result of the last step of a chained
// tool, or the last variant of a fan-out tool
func (x *Result) Final() *model.Output {
	if x == nil || x.Record == nil || len(x.Record.Outputs) == 0 {
		return nil
	}
	return x.Record.Outputs[len(x.Record.Outputs)-1]
}

// Run validates req, calls the generation API according to the tool mode
// and saves one record when every call succeeded. Any failed call fails the
// whole action and nothing is written to history.
func (u *UseCase) Run(ctx context.Context, def *tool.Definition, req *model.GenerationRequest) (*Result, error) {
	plan, err := def.Plan(req)
	if err != nil {
		return nil, err
	}
	if err := u.checkPolicy(ctx, plan, req); err != nil {
		return nil, err
	}

	logger := logging.From(ctx).With("tool", def.Name)
	started := time.Now()

	var outputs []*model.Output
	switch plan.Mode {
	case tool.ModeChain:
		outputs, err = u.runChain(ctx, plan)
	default:
		outputs, err = u.runFanOut(ctx, plan)
	}
	if err != nil {
		logger.Warn("generation failed", "duration", time.Since(started), logging.ErrAttr(err))
		return nil, err
	}

	result := &Result{}
	result.Record, result.StorageWarning = u.buildRecord(def, req, outputs)
	if result.StorageWarning == nil {
		store := u.stores.For(def.HistoryNamespace(), def.MaxHistory)
		if err := store.Insert(ctx, result.Record); err != nil {
			result.StorageWarning = goerr.Wrap(err, "failed to save generation to history", goerr.V("tool", def.Name))
		}
	}
	if result.StorageWarning != nil {
		logger.Warn("generation is not saved to history", logging.ErrAttr(result.StorageWarning))
	}

	logger.Info("generation completed",
		"id", result.Record.ID,
		"outputs", len(outputs),
		"duration", time.Since(started),
	)
	return result, nil
}

// runFanOut generates every call concurrently. Outputs keep the order of
// the plan regardless of completion order.
func (u *UseCase) runFanOut(ctx context.Context, plan *tool.Plan) ([]*model.Output, error) {
	outputs := make([]*model.Output, len(plan.Calls))

	eg, egCtx := errgroup.WithContext(ctx)
	if plan.Tool.Parallelism > 0 {
		eg.SetLimit(plan.Tool.Parallelism)
	}

	for i, call := range plan.Calls {
		eg.Go(func() error {
			img, err := u.generate(egCtx, plan.Tool, call, call.Images)
			if err != nil {
				return err
			}
			outputs[i] = &model.Output{Tag: call.Tag, Image: img}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// runChain runs calls one after another, feeding each output into the
// next call that asks for it
func (u *UseCase) runChain(ctx context.Context, plan *tool.Plan) ([]*model.Output, error) {
	outputs := make([]*model.Output, 0, len(plan.Calls))

	var previous model.Image
	for _, call := range plan.Calls {
		images := call.Images
		if call.UsePrevious && previous != nil {
			images = append([]*model.CallImage{{Slot: tool.PreviousSlot, Image: previous}}, images...)
		}

		img, err := u.generate(ctx, plan.Tool, call, images)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, &model.Output{Tag: call.Tag, Image: img})
		previous = img
	}

	return outputs, nil
}

func (u *UseCase) checkPolicy(ctx context.Context, plan *tool.Plan, req *model.GenerationRequest) error {
	if u.policy == nil {
		return nil
	}

	input := &policy.Input{
		Tool:   plan.Tool.Name,
		Mode:   string(plan.Mode),
		Params: req.Params,
	}
	for _, call := range plan.Calls {
		input.Variants = append(input.Variants, call.Tag)
	}
	for _, in := range req.Inputs {
		mimeType, err := codec.MIMEType(in.Image)
		if err != nil {
			return goerr.Wrap(err, "failed to read input image", goerr.V("slot", in.Slot))
		}
		input.Images = append(input.Images, policy.ImageInput{Slot: in.Slot, MIMEType: mimeType})
	}

	return u.policy.Check(ctx, input)
}

func (u *UseCase) generate(ctx context.Context, def *tool.Definition, call *tool.Call, images []*model.CallImage) (model.PersistedImage, error) {
	logging.From(ctx).Debug("calling image generation", "tool", def.Name, "tag", call.Tag, "images", len(images))

	img, err := u.generator.Generate(ctx, &model.GenerationCall{
		Tag:    call.Tag,
		Prompt: call.Prompt,
		Images: images,
	})
	if err != nil {
		return "", goerr.Wrap(err, "generation call failed", goerr.V("tool", def.Name), goerr.V("tag", call.Tag))
	}
	if _, err := img.MIMEType(); err != nil {
		return "", goerr.Wrap(err, "generated image is malformed", goerr.T(model.TagGeneration), goerr.T(model.TagEmptyResponse),
			goerr.V("tool", def.Name), goerr.V("tag", call.Tag))
	}
	return img, nil
}

func (u *UseCase) buildRecord(def *tool.Definition, req *model.GenerationRequest, outputs []*model.Output) (*model.GenerationRecord, error) {
	record := &model.GenerationRecord{
		ID:        u.newID(),
		Tool:      def.Name,
		Timestamp: u.now(),
		Params:    req.Params,
		Outputs:   outputs,
	}

	for _, in := range req.Inputs {
		img, err := codec.Persist(in.Image)
		if err != nil {
			return record, goerr.Wrap(err, "failed to encode input image", goerr.V("slot", in.Slot))
		}
		record.Inputs = append(record.Inputs, &model.InputImage{Slot: in.Slot, Image: img})
	}

	return record, nil
}
