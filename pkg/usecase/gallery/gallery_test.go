package gallery_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/atelier/pkg/adapter"
	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/history"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/repository"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/atelier/pkg/usecase/gallery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func encoded(t *testing.T, mime, data string) model.PersistedImage {
	p, err := codec.Encode(model.NewLiveImage(mime, []byte(data)))
	gt.NoError(t, err)
	return p
}

func setup(t *testing.T) (*gallery.UseCase, *tool.Definition, *history.Store[*model.GenerationRecord]) {
	def, err := tool.Builtin().Get("studio")
	gt.NoError(t, err)

	stores := history.NewStores[*model.GenerationRecord](repository.NewMemory())
	store := stores.For(def.HistoryNamespace(), def.MaxHistory)

	for i, id := range []string{"a", "b", "c"} {
		gt.NoError(t, store.Insert(context.Background(), &model.GenerationRecord{
			ID:        model.RecordID(id),
			Tool:      def.Name,
			Timestamp: int64(1000 + i),
			Inputs: []*model.InputImage{
				{Slot: "product", Image: encoded(t, "image/jpeg", "product-"+id)},
			},
			Params: model.Params{Prompt: "prompt " + id},
			Outputs: []*model.Output{
				{Tag: "studio", Image: encoded(t, "image/png", "studio-"+id)},
				{Tag: "lifestyle", Image: encoded(t, "image/png", "lifestyle-"+id)},
			},
		}))
	}

	return gallery.New(stores), def, store
}

func TestList(t *testing.T) {
	uc, def, _ := setup(t)

	summaries, err := uc.List(context.Background(), def)
	gt.NoError(t, err)
	gt.A(t, summaries).Length(3)
	gt.Equal(t, summaries[0].ID, model.RecordID("c"))
	gt.Equal(t, summaries[0].Prompt, "prompt c")
	gt.Equal(t, summaries[0].Tags, []string{"studio", "lifestyle"})
	gt.Equal(t, summaries[0].Inputs, 1)
	gt.Equal(t, summaries[0].Thumbnail, "image/png")
	gt.Equal(t, summaries[2].ID, model.RecordID("a"))
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	uc, def, store := setup(t)

	gt.NoError(t, uc.Delete(ctx, def, "b"))
	gt.NoError(t, uc.Delete(ctx, def, "b"))

	_, err := uc.Show(ctx, def, "b")
	gt.True(t, goerr.HasTag(err, model.TagNotFound))

	n, err := uc.Clear(ctx, def)
	gt.NoError(t, err)
	gt.Equal(t, n, 2)

	count, err := store.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, count, 0)

	n, err = uc.Clear(ctx, def)
	gt.NoError(t, err)
	gt.Equal(t, n, 0)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	uc, def, _ := setup(t)

	dir := t.TempDir()
	storage, err := adapter.NewFileStorage(dir)
	gt.NoError(t, err)

	keys, err := uc.Export(ctx, def, storage, "a")
	gt.NoError(t, err)
	gt.Equal(t, keys, []string{
		"studio/a/input-00-product.jpg",
		"studio/a/output-00-studio.png",
		"studio/a/output-01-lifestyle.png",
		"studio/a/manifest.json",
	})

	data, err := os.ReadFile(filepath.Join(dir, "studio", "a", "output-01-lifestyle.png"))
	gt.NoError(t, err)
	gt.Equal(t, string(data), "lifestyle-a")

	r, err := storage.Get(ctx, "studio/a/manifest.json")
	gt.NoError(t, err)
	defer r.Close()
	raw, err := io.ReadAll(r)
	gt.NoError(t, err)

	var m struct {
		ID      string       `json:"id"`
		Params  model.Params `json:"params"`
		Outputs []string     `json:"outputs"`
	}
	gt.NoError(t, json.Unmarshal(raw, &m))
	gt.Equal(t, m.ID, "a")
	gt.Equal(t, m.Params.Prompt, "prompt a")
	gt.A(t, m.Outputs).Length(2)
}

func TestExportAll(t *testing.T) {
	uc, def, _ := setup(t)
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	keys, err := uc.Export(context.Background(), def, storage)
	gt.NoError(t, err)
	gt.A(t, keys).Length(12)
}

func TestExportMissing(t *testing.T) {
	uc, def, _ := setup(t)
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	_, err = uc.Export(context.Background(), def, storage, "zzz")
	gt.True(t, goerr.HasTag(err, model.TagNotFound))
}
