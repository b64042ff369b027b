package model_test

import (
	"testing"

	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

const pixel = model.PersistedImage("data:image/png;base64,iVBORw0KGgo=")

func newRecord() *model.GenerationRecord {
	return &model.GenerationRecord{
		ID:        model.NewRecordID(),
		Tool:      "model-shoot",
		Timestamp: 1700000000000,
		Inputs: []*model.InputImage{
			{Slot: "person", Image: pixel},
			{Slot: "accessory", Image: pixel},
			{Slot: "accessory", Image: pixel},
		},
		Params:  model.Params{Prompt: "studio light"},
		Outputs: []*model.Output{{Tag: "front", Image: pixel}},
	}
}

func TestRecordValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		gt.NoError(t, newRecord().Validate())
	})

	t.Run("no outputs", func(t *testing.T) {
		r := newRecord()
		r.Outputs = nil
		err := r.Validate()
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.TagValidation))
	})

	t.Run("no timestamp", func(t *testing.T) {
		r := newRecord()
		r.Timestamp = 0
		gt.True(t, goerr.HasTag(r.Validate(), model.TagValidation))
	})

	t.Run("broken output image", func(t *testing.T) {
		r := newRecord()
		r.Outputs[0].Image = "not a data url"
		gt.True(t, goerr.HasTag(r.Validate(), model.TagFormat))
	})
}

func TestRecordInputsOf(t *testing.T) {
	r := newRecord()
	gt.A(t, r.InputsOf("accessory")).Length(2)
	gt.A(t, r.InputsOf("person")).Length(1)
	gt.A(t, r.InputsOf("style")).Length(0)
	gt.Equal(t, r.EntryID(), string(r.ID))
	gt.Equal(t, r.CreatedAt().UnixMilli(), r.Timestamp)
}
