package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type RecordID string

// NewRecordID generates a new unique RecordID
func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

// NowMillis returns the current time as epoch milliseconds
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// InputImage is one named input of a generation. A slot may appear more
// than once (for example several accessory images).
type InputImage struct {
	Slot  string         `json:"slot"`
	Image PersistedImage `json:"image"`
}

// Output is one generated image tagged with the variant that produced it
type Output struct {
	Tag   string         `json:"tag"`
	Image PersistedImage `json:"image"`
}

// Params holds the free-text parameters of a generation
type Params struct {
	Prompt string            `json:"prompt,omitempty"`
	Mode   string            `json:"mode,omitempty"`
	Style  string            `json:"style,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// GenerationRecord is one successful generation kept in history
type GenerationRecord struct {
	ID        RecordID      `json:"id"`
	Tool      string        `json:"tool"`
	Timestamp int64         `json:"timestamp"`
	Inputs    []*InputImage `json:"inputs"`
	Params    Params        `json:"params"`
	Outputs   []*Output     `json:"outputs"`
}

func (x *GenerationRecord) EntryID() string       { return string(x.ID) }
func (x *GenerationRecord) EntryTimestamp() int64 { return x.Timestamp }

// CreatedAt converts Timestamp to time.Time
func (x *GenerationRecord) CreatedAt() time.Time {
	return time.UnixMilli(x.Timestamp)
}

// InputsOf returns the images of one slot in their original order
func (x *GenerationRecord) InputsOf(slot string) []PersistedImage {
	var images []PersistedImage
	for _, in := range x.Inputs {
		if in.Slot == slot {
			images = append(images, in.Image)
		}
	}
	return images
}

// Validate checks that the record can be persisted. Records without
// outputs belong to failed or in-flight generations and are rejected.
func (x *GenerationRecord) Validate() error {
	if x == nil {
		return goerr.New("record is nil", goerr.T(TagValidation))
	}
	if x.ID == "" {
		return goerr.New("record ID is empty", goerr.T(TagValidation))
	}
	if x.Timestamp <= 0 {
		return goerr.New("record timestamp is not set", goerr.T(TagValidation), goerr.V("id", x.ID))
	}
	if len(x.Outputs) == 0 {
		return goerr.New("record has no output", goerr.T(TagValidation), goerr.V("id", x.ID))
	}

	for _, in := range x.Inputs {
		if in.Slot == "" {
			return goerr.New("input slot is empty", goerr.T(TagValidation), goerr.V("id", x.ID))
		}
		if _, err := in.Image.MIMEType(); err != nil {
			return goerr.Wrap(err, "invalid input image", goerr.V("id", x.ID), goerr.V("slot", in.Slot))
		}
	}
	for _, out := range x.Outputs {
		if _, err := out.Image.MIMEType(); err != nil {
			return goerr.Wrap(err, "invalid output image", goerr.V("id", x.ID), goerr.V("tag", out.Tag))
		}
	}

	return nil
}

// Row is the storage form of a history entry handed to persistence backends
type Row struct {
	ID        string
	Timestamp int64
	Payload   []byte
}
