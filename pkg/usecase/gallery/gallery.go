package gallery

import (
	"github.com/m-mizutani/atelier/pkg/history"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/tool"
)

// UseCase provides the history panel operations of a tool
type UseCase struct {
	stores *history.Stores[*model.GenerationRecord]
}

func New(stores *history.Stores[*model.GenerationRecord]) *UseCase {
	return &UseCase{stores: stores}
}

func (u *UseCase) store(def *tool.Definition) *history.Store[*model.GenerationRecord] {
	return u.stores.For(def.HistoryNamespace(), def.MaxHistory)
}
