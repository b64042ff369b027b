package gallery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/atelier/pkg/adapter"
	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/atelier/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// manifest describes an exported generation without image payloads
type manifest struct {
	ID        model.RecordID `json:"id"`
	Tool      string         `json:"tool"`
	Timestamp int64          `json:"timestamp"`
	Params    model.Params   `json:"params"`
	Inputs    []string       `json:"inputs"`
	Outputs   []string       `json:"outputs"`
}

// Export writes the images of the saved generations to storage under
// <tool>/<id>/ together with a manifest.json. When ids is empty every
// record of the tool is exported. It returns the written keys.
func (u *UseCase) Export(ctx context.Context, def *tool.Definition, storage adapter.Storage, ids ...model.RecordID) ([]string, error) {
	var records []*model.GenerationRecord
	if len(ids) == 0 {
		all, err := u.store(def).GetAll(ctx)
		if err != nil {
			return nil, err
		}
		records = all
	} else {
		for _, id := range ids {
			r, err := u.store(def).Get(ctx, string(id))
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
	}

	var keys []string
	for _, r := range records {
		written, err := exportRecord(ctx, storage, r)
		if err != nil {
			return keys, err
		}
		keys = append(keys, written...)
	}

	logging.From(ctx).Info("exported generations", "tool", def.Name, "records", len(records), "objects", len(keys))
	return keys, nil
}

func exportRecord(ctx context.Context, storage adapter.Storage, r *model.GenerationRecord) ([]string, error) {
	prefix := fmt.Sprintf("%s/%s/", r.Tool, r.ID)
	m := manifest{
		ID:        r.ID,
		Tool:      r.Tool,
		Timestamp: r.Timestamp,
		Params:    r.Params,
	}

	var keys []string
	for i, in := range r.Inputs {
		key, err := writeImage(ctx, storage, fmt.Sprintf("%sinput-%02d-%s", prefix, i, in.Slot), in.Image)
		if err != nil {
			return keys, goerr.Wrap(err, "failed to export input", goerr.V("id", r.ID), goerr.V("slot", in.Slot))
		}
		m.Inputs = append(m.Inputs, key)
		keys = append(keys, key)
	}
	for i, out := range r.Outputs {
		key, err := writeImage(ctx, storage, fmt.Sprintf("%soutput-%02d-%s", prefix, i, out.Tag), out.Image)
		if err != nil {
			return keys, goerr.Wrap(err, "failed to export output", goerr.V("id", r.ID), goerr.V("tag", out.Tag))
		}
		m.Outputs = append(m.Outputs, key)
		keys = append(keys, key)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return keys, goerr.Wrap(err, "failed to marshal manifest", goerr.V("id", r.ID))
	}
	key := prefix + "manifest.json"
	if err := write(ctx, storage, key, data); err != nil {
		return keys, err
	}

	return append(keys, key), nil
}

func writeImage(ctx context.Context, storage adapter.Storage, base string, img model.PersistedImage) (string, error) {
	live, err := codec.Decode(img)
	if err != nil {
		return "", err
	}
	defer live.Release()

	data, err := live.Bytes()
	if err != nil {
		return "", err
	}

	key := base + codec.Extension(live.MIMEType())
	if err := write(ctx, storage, key, data); err != nil {
		return "", err
	}
	return key, nil
}

func write(ctx context.Context, storage adapter.Storage, key string, data []byte) error {
	w, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open object", goerr.V("key", key))
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close object", goerr.V("key", key))
	}
	return nil
}
