package gallery

import (
	"context"
	"time"

	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/tool"
)

// Summary is one line of the history panel
type Summary struct {
	ID        model.RecordID
	CreatedAt time.Time
	Prompt    string
	Tags      []string
	Inputs    int
	// Thumbnail is the MIME type of the first output
	Thumbnail string
}

// List returns the saved generations of the tool, newest first
func (u *UseCase) List(ctx context.Context, def *tool.Definition) ([]*Summary, error) {
	records, err := u.store(def).GetAll(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]*Summary, 0, len(records))
	for _, r := range records {
		s := &Summary{
			ID:        r.ID,
			CreatedAt: r.CreatedAt(),
			Prompt:    r.Params.Prompt,
			Inputs:    len(r.Inputs),
		}
		for _, out := range r.Outputs {
			s.Tags = append(s.Tags, out.Tag)
		}
		if len(r.Outputs) > 0 {
			s.Thumbnail, _ = r.Outputs[0].Image.MIMEType()
		}
		summaries = append(summaries, s)
	}

	return summaries, nil
}

// Show returns one saved generation
func (u *UseCase) Show(ctx context.Context, def *tool.Definition, id model.RecordID) (*model.GenerationRecord, error) {
	return u.store(def).Get(ctx, string(id))
}

// Delete removes one saved generation. A missing id is not an error.
func (u *UseCase) Delete(ctx context.Context, def *tool.Definition, id model.RecordID) error {
	return u.store(def).DeleteOne(ctx, string(id))
}

// Clear removes every saved generation of the tool and returns how many
// were removed
func (u *UseCase) Clear(ctx context.Context, def *tool.Definition) (int, error) {
	store := u.store(def)
	n, err := store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if err := store.Clear(ctx); err != nil {
		return 0, err
	}
	return n, nil
}
