package restore_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/history"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/repository"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/atelier/pkg/usecase/generation"
	"github.com/m-mizutani/atelier/pkg/usecase/restore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockGenerator struct {
	calls []*model.GenerationCall
}

func (m *mockGenerator) Generate(ctx context.Context, call *model.GenerationCall) (model.PersistedImage, error) {
	m.calls = append(m.calls, call)
	for _, img := range call.Images {
		if _, _, err := codec.Bytes(img.Image); err != nil {
			return "", err
		}
	}
	return codec.Encode(model.NewLiveImage("image/png", []byte("out:"+call.Tag)))
}

func encoded(t *testing.T, mime, data string) model.PersistedImage {
	p, err := codec.Encode(model.NewLiveImage(mime, []byte(data)))
	gt.NoError(t, err)
	return p
}

func newRecord(t *testing.T) *model.GenerationRecord {
	return &model.GenerationRecord{
		ID:        "rec-1",
		Tool:      "model-shoot",
		Timestamp: 1700000000000,
		Inputs: []*model.InputImage{
			{Slot: "person", Image: encoded(t, "image/jpeg", "person")},
		},
		Params: model.Params{Prompt: "on the beach", Mode: "portrait", Extra: map[string]string{"seed": "42"}},
		Outputs: []*model.Output{
			{Tag: "front", Image: encoded(t, "image/png", "front")},
			{Tag: "side", Image: encoded(t, "image/png", "side")},
		},
	}
}

func TestRestore(t *testing.T) {
	record := newRecord(t)
	state, err := restore.Restore(record)
	gt.NoError(t, err)
	defer state.Release()

	gt.Equal(t, state.Tool, "model-shoot")
	gt.Equal(t, state.RecordID, record.ID)
	gt.Equal(t, state.Params.Prompt, "on the beach")
	gt.Equal(t, state.Params.Mode, "portrait")
	gt.Equal(t, state.Params.Extra["seed"], "42")
	gt.Equal(t, state.Variants(), []string{"front", "side"})

	data, err := state.Outputs[1].Image.Bytes()
	gt.NoError(t, err)
	gt.Equal(t, string(data), "side")
	gt.Equal(t, state.Outputs[1].Image.MIMEType(), "image/png")

	// params are copied, not shared
	state.Params.Extra["seed"] = "7"
	gt.Equal(t, record.Params.Extra["seed"], "42")
}

func TestRestoreOptionalSlotStaysEmpty(t *testing.T) {
	state, err := restore.Restore(newRecord(t))
	gt.NoError(t, err)
	defer state.Release()

	slots := state.Slots()
	gt.A(t, slots["person"]).Length(1)
	_, ok := slots["accessory"]
	gt.False(t, ok)
}

func TestRestoreBrokenImage(t *testing.T) {
	record := newRecord(t)
	record.Outputs[1].Image = "data:image/png;base64,!!!"

	_, err := restore.Restore(record)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.TagFormat))

	record = newRecord(t)
	record.Inputs[0].Image = "not a data url"
	_, err = restore.Restore(record)
	gt.True(t, goerr.HasTag(err, model.TagFormat))
}

func TestRestoreNil(t *testing.T) {
	_, err := restore.Restore(nil)
	gt.True(t, goerr.HasTag(err, model.TagValidation))
}

func TestRelease(t *testing.T) {
	state, err := restore.Restore(newRecord(t))
	gt.NoError(t, err)
	state.Release()
	state.Release()

	_, err = state.Outputs[0].Image.Bytes()
	gt.True(t, goerr.HasTag(err, model.TagRead))

	// inputs are persisted form and still usable after release
	_, _, err = codec.Bytes(state.Inputs[0].Image)
	gt.NoError(t, err)
}

func TestRestoreThenResubmit(t *testing.T) {
	ctx := context.Background()
	stores := history.NewStores[*model.GenerationRecord](repository.NewMemory())
	gen := &mockGenerator{}
	uc := generation.New(gen, stores)

	def, err := tool.Builtin().Get("model-shoot")
	gt.NoError(t, err)

	person := model.NewLiveImage("image/jpeg", []byte("person"))
	first, err := uc.Run(ctx, def, &model.GenerationRequest{
		Inputs:   []*model.CallImage{{Slot: "person", Image: person}},
		Params:   model.Params{Prompt: "beach"},
		Variants: []string{"front", "walking"},
	})
	gt.NoError(t, err)

	// the live input is gone; restoration only uses the record
	person.Release()

	store := stores.For(def.HistoryNamespace(), def.MaxHistory)
	state, err := restore.Load(ctx, store, string(first.Record.ID))
	gt.NoError(t, err)
	defer state.Release()

	second, err := uc.Run(ctx, def, state.Request(def))
	gt.NoError(t, err)
	gt.NoError(t, second.StorageWarning)
	gt.A(t, second.Record.Outputs).Length(2)
	gt.Equal(t, second.Record.Outputs[0].Tag, "front")
	gt.Equal(t, second.Record.Outputs[1].Tag, "walking")
	gt.Equal(t, second.Record.Params.Prompt, "beach")
	gt.Equal(t, second.Record.Inputs[0].Image, first.Record.Inputs[0].Image)

	n, err := store.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 2)
}

func TestRestoreChainedRecord(t *testing.T) {
	ctx := context.Background()
	stores := history.NewStores[*model.GenerationRecord](repository.NewMemory())
	gen := &mockGenerator{}
	uc := generation.New(gen, stores)

	def, err := tool.Builtin().Get("clone-shoot")
	gt.NoError(t, err)

	result, err := uc.Run(ctx, def, &model.GenerationRequest{
		Inputs: []*model.CallImage{
			{Slot: "person", Image: model.NewLiveImage("image/jpeg", []byte("p"))},
			{Slot: "pose", Image: model.NewLiveImage("image/jpeg", []byte("q"))},
		},
	})
	gt.NoError(t, err)
	gt.A(t, result.Record.Outputs).Length(1)

	state, err := restore.Restore(result.Record)
	gt.NoError(t, err)
	defer state.Release()

	_, ok := state.Slots()["style"]
	gt.False(t, ok)

	req := state.Request(def)
	gt.A(t, req.Variants).Length(0)

	again, err := uc.Run(ctx, def, req)
	gt.NoError(t, err)
	gt.Equal(t, again.Final().Tag, "pose")
}

func TestLoadNotFound(t *testing.T) {
	store := history.New[*model.GenerationRecord](repository.NewMemory(), "model-shoot", 20)
	_, err := restore.Load(context.Background(), store, "missing")
	gt.True(t, goerr.HasTag(err, model.TagNotFound))
}
