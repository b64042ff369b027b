package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/atelier/pkg/interfaces"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Memory keeps namespaces in process memory. Data is lost on exit.
type Memory struct {
	mu         sync.Mutex
	namespaces map[string]*memoryNamespace
}

var _ interfaces.Opener = (*Memory)(nil)

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{
		namespaces: make(map[string]*memoryNamespace),
	}
}

func (m *Memory) Open(ctx context.Context, namespace string) (interfaces.Persistence, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = &memoryNamespace{rows: make(map[string]*model.Row)}
		m.namespaces[namespace] = ns
	}
	return ns, nil
}

type memoryNamespace struct {
	mu   sync.RWMutex
	rows map[string]*model.Row
}

func (n *memoryNamespace) Put(ctx context.Context, row *model.Row) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rows[row.ID] = copyRow(row)
	return nil
}

func (n *memoryNamespace) Get(ctx context.Context, id string) (*model.Row, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	row, ok := n.rows[id]
	if !ok {
		return nil, goerr.New("row not found", goerr.T(model.TagNotFound), goerr.V("id", id))
	}
	return copyRow(row), nil
}

func (n *memoryNamespace) List(ctx context.Context) ([]*model.Row, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	rows := make([]*model.Row, 0, len(n.rows))
	for _, row := range n.rows {
		rows = append(rows, copyRow(row))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Timestamp != rows[j].Timestamp {
			return rows[i].Timestamp > rows[j].Timestamp
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}

func (n *memoryNamespace) Delete(ctx context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rows, id)
	return nil
}

func (n *memoryNamespace) Clear(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rows = make(map[string]*model.Row)
	return nil
}

func (n *memoryNamespace) Count(ctx context.Context) (int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.rows), nil
}
