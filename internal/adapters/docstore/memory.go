package docstore

import (
	"cmp"
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Memory is an in-process Store. Documents are kept encoded so callers never
// share mutable state with the store.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]map[string]json.RawMessage)}
}

func (m *Memory) Create(_ context.Context, collection string, doc any) (string, error) {
	id := uuid.NewString()
	data, err := encodeObject(doc, id)
	if err != nil {
		return "", err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		c = make(map[string]map[string]json.RawMessage)
		m.collections[collection] = c
	}
	c[id] = obj
	return id, nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.collections[collection][id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ID: id, Data: data}, nil
}

func (m *Memory) Update(_ context.Context, collection, id string, fields map[string]any) error {
	enc, err := encodeFields(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range enc {
		obj[k] = v
	}
	return nil
}

func (m *Memory) Query(_ context.Context, collection string, q Query) ([]Snapshot, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type row struct {
		id  string
		obj map[string]json.RawMessage
	}
	rows := make([]row, 0, len(m.collections[collection]))
	for id, obj := range m.collections[collection] {
		if matches(obj, q.Filters) {
			rows = append(rows, row{id: id, obj: obj})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range q.OrderBy {
			c := compareField(rows[i].obj[o.Field], rows[j].obj[o.Field], o.Kind)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return rows[i].id < rows[j].id
	})

	out := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		data, err := json.Marshal(r.obj)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{ID: r.id, Data: data})
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func matches(obj map[string]json.RawMessage, filters []Filter) bool {
	for _, f := range filters {
		raw, ok := obj[f.Field]
		if !ok || textOf(raw) != f.Value {
			return false
		}
	}
	return true
}

// textOf mirrors PostgreSQL's ->> operator: strings lose their quotes and
// everything else keeps its JSON text.
func textOf(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func compareField(a, b json.RawMessage, kind Kind) int {
	ta, tb := textOf(a), textOf(b)
	switch kind {
	case KindNumber:
		fa, _ := strconv.ParseFloat(ta, 64)
		fb, _ := strconv.ParseFloat(tb, 64)
		return cmp.Compare(fa, fb)
	case KindTime:
		ia, _ := time.Parse(time.RFC3339Nano, ta)
		ib, _ := time.Parse(time.RFC3339Nano, tb)
		return ia.Compare(ib)
	default:
		return strings.Compare(ta, tb)
	}
}
