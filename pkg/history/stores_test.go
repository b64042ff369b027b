package history_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/atelier/pkg/history"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestStoresFor(t *testing.T) {
	opener := &failingOpener{}
	stores := history.NewStores[*model.GenerationRecord](opener)

	a := stores.For("studio", 20)
	b := stores.For("studio", 5)
	gt.Equal(t, a, b)
	gt.Equal(t, b.Limit(), 20)

	ctx := context.Background()
	gt.NoError(t, a.Insert(ctx, newRecord(1)))
	count, err := b.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, count, 1)
	gt.Equal(t, opener.calls, 1)

	c := stores.For("composer", 15)
	gt.Equal(t, c.Namespace(), "composer")
	_, err = c.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, opener.calls, 2)
}
