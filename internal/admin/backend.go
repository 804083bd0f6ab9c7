package admin

import "context"

// Values maps field names to cleaned, typed form values.
type Values map[string]any

// Record is a stored model instance as the admin sees it.
type Record struct {
	ID     int64
	Values Values
}

// Filter is an exact-match constraint on one field.
type Filter struct {
	Field string
	Value any
}

// Query is what a changelist asks of a backend. Terms are matched
// case-insensitively as substrings: every term must match at least one of
// SearchFields. A zero Limit means no limit.
type Query struct {
	Terms        []string
	SearchFields []string
	Filters      []Filter
	Ordering     []string
	Limit        int
	Offset       int
}

// Backend persists the records of one registered model.
type Backend interface {
	Query(ctx context.Context, q Query) ([]Record, error)
	Count(ctx context.Context, q Query) (int, error)
	Distinct(ctx context.Context, field string) ([]any, error)
	Get(ctx context.Context, id int64) (Record, error)
	Create(ctx context.Context, values Values) (Record, error)
	Update(ctx context.Context, id int64, values Values) (Record, error)
	Delete(ctx context.Context, id int64) error
}
