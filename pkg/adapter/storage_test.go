package adapter_test

import (
	"context"
	"io"
	"testing"

	"github.com/m-mizutani/atelier/pkg/adapter"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	s, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	w, err := s.Put(ctx, "model-shoot/abc.json")
	gt.NoError(t, err)
	_, err = w.Write([]byte(`{"id":"abc"}`))
	gt.NoError(t, err)

	// Not visible before Close
	_, err = s.Get(ctx, "model-shoot/abc.json")
	gt.True(t, goerr.HasTag(err, model.TagNotFound))

	gt.NoError(t, w.Close())

	r, err := s.Get(ctx, "model-shoot/abc.json")
	gt.NoError(t, err)
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.NoError(t, r.Close())
	gt.Equal(t, string(data), `{"id":"abc"}`)

	gt.NoError(t, s.Delete(ctx, "model-shoot/abc.json"))
	gt.NoError(t, s.Delete(ctx, "model-shoot/abc.json"))

	_, err = s.Get(ctx, "model-shoot/abc.json")
	gt.True(t, goerr.HasTag(err, model.TagNotFound))
}

func TestFileStorageRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	_, err = s.Put(ctx, "../outside.json")
	gt.Error(t, err)

	_, err = s.Get(ctx, "/etc/passwd")
	gt.Error(t, err)
}
