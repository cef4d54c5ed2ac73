// Package docstore defines the document store contract used as the primary
// assessment and athlete store, with in-memory and PostgreSQL backends.
package docstore

import (
	"context"
	"fmt"
	"regexp"

	json "github.com/goccy/go-json"

	"github.com/okian/repscore/internal/domain/model"
)

// Sentinel kinds for document store errors.
var (
	ErrNotFound     = fmt.Errorf("document %w", model.ErrNotFound)
	ErrInvalidField = fmt.Errorf("%w: invalid document field", model.ErrValidation)
	ErrNotObject    = fmt.Errorf("%w: document must encode to a JSON object", model.ErrValidation)
)

// Kind controls how an ordering field is compared.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindTime
)

// Filter is an exact-match predicate on a top-level field, compared as text.
type Filter struct {
	Field string
	Value string
}

// Order sorts by a top-level field.
type Order struct {
	Field string
	Kind  Kind
	Desc  bool
}

// Query selects documents of one collection. Results are always tie-broken by id.
type Query struct {
	Filters []Filter
	OrderBy []Order
}

// Where returns q with an extra filter. Empty values are ignored.
func (q Query) Where(field, value string) Query {
	if value == "" {
		return q
	}
	q.Filters = append(q.Filters, Filter{Field: field, Value: value})
	return q
}

// Snapshot is one stored document.
type Snapshot struct {
	ID   string
	Data []byte
}

// Decode unmarshals the document into v.
func (s Snapshot) Decode(v any) error {
	return json.Unmarshal(s.Data, v)
}

// Store is a collection-oriented document store.
type Store interface {
	// Create stores doc under a new id and returns it. The id is written into
	// the document's "id" field.
	Create(ctx context.Context, collection string, doc any) (string, error)

	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (Snapshot, error)

	// Update shallow-merges fields into the document's top level.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	Query(ctx context.Context, collection string, q Query) ([]Snapshot, error)

	Ping(ctx context.Context) error
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkQuery(q Query) error {
	for _, f := range q.Filters {
		if !fieldName.MatchString(f.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidField, f.Field)
		}
	}
	for _, o := range q.OrderBy {
		if !fieldName.MatchString(o.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidField, o.Field)
		}
	}
	return nil
}

// encodeObject marshals doc and stamps id into it.
func encodeObject(doc any, id string) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, ErrNotObject
	}
	idRaw, _ := json.Marshal(id)
	obj["id"] = idRaw
	return json.Marshal(obj)
}

func encodeFields(fields map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if !fieldName.MatchString(k) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, k)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}
