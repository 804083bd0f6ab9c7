package admin_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"customer-auth/internal/admin"
	"customer-auth/internal/domain"
)

// memBackend keeps records in insertion order and applies filters, search
// and pagination. Ordering is recorded but not applied.
type memBackend struct {
	mu      sync.Mutex
	nextID  int64
	records []admin.Record
	queries []admin.Query
}

func (b *memBackend) match(rec admin.Record, q admin.Query) bool {
	for _, f := range q.Filters {
		if rec.Values[f.Field] != f.Value {
			return false
		}
	}
	for _, term := range q.Terms {
		hit := false
		for _, field := range q.SearchFields {
			s, _ := rec.Values[field].(string)
			if strings.Contains(strings.ToLower(s), strings.ToLower(term)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (b *memBackend) Query(_ context.Context, q admin.Query) ([]admin.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)

	var out []admin.Record
	for _, rec := range b.records {
		if b.match(rec, q) {
			out = append(out, rec)
		}
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (b *memBackend) Count(_ context.Context, q admin.Query) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, rec := range b.records {
		if b.match(rec, q) {
			n++
		}
	}
	return n, nil
}

func (b *memBackend) Distinct(_ context.Context, field string) ([]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := map[any]bool{}
	var out []any
	for _, rec := range b.records {
		v := rec.Values[field]
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

func (b *memBackend) Get(_ context.Context, id int64) (admin.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range b.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return admin.Record{}, domain.ErrNotFound
}

func (b *memBackend) Create(_ context.Context, values admin.Values) (admin.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	rec := admin.Record{ID: b.nextID, Values: values}
	b.records = append(b.records, rec)
	return rec, nil
}

func (b *memBackend) Update(_ context.Context, id int64, values admin.Values) (admin.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, rec := range b.records {
		if rec.ID == id {
			b.records[i].Values = values
			return b.records[i], nil
		}
	}
	return admin.Record{}, domain.ErrNotFound
}

func (b *memBackend) Delete(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, rec := range b.records {
		if rec.ID == id {
			b.records = append(b.records[:i], b.records[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (b *memBackend) lastQuery() admin.Query {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries[len(b.queries)-1]
}

var memberModel = admin.Model{
	Name:        "members",
	VerboseName: "member",
	Fields: []admin.Field{
		{Name: "email", Label: "Email address", Kind: admin.KindEmail, Required: true, MaxLength: 20},
		{Name: "nick", Label: "Nickname", Kind: admin.KindText},
		{Name: "bio", Kind: admin.KindTextarea},
		{Name: "is_active", Label: "Active", Kind: admin.KindBool},
		{Name: "joined", Kind: admin.KindDateTime, ReadOnly: true},
		{Name: "secret", Kind: admin.KindPassword, FormOnly: true, Required: true},
	},
}

func memberAdmin() admin.ModelAdmin {
	return admin.ModelAdmin{
		SearchFields: []string{"email", "nick"},
		ListFilter:   []string{"nick", "is_active"},
		Ordering:     []string{"-joined"},
		ListDisplay:  []string{"email", "nick", "is_active"},
		Fieldsets: []admin.Fieldset{
			{Fields: []string{"email", "nick"}},
			{Name: "Details", Fields: []string{"bio", "is_active", "joined"}},
		},
		AddFieldsets: []admin.Fieldset{
			{Classes: []string{"wide"}, Fields: []string{"email", "nick", "secret", "is_active"}},
		},
		FormfieldOverrides: map[string]admin.Widget{"bio": admin.Textarea(4, 20)},
		ListPerPage:        2,
		ListMaxShowAll:     5,
	}
}

func newMemberSite(t *testing.T, n int) (*admin.Registration, *memBackend) {
	t.Helper()
	backend := &memBackend{}
	for i := 1; i <= n; i++ {
		_, err := backend.Create(context.Background(), admin.Values{
			"email":     fmt.Sprintf("m%d@example.com", i),
			"nick":      []string{"red", "blue"}[i%2],
			"is_active": i%2 == 0,
		})
		require.NoError(t, err)
	}

	site := admin.NewSite("test")
	require.NoError(t, site.Register(memberModel, memberAdmin(), backend))
	reg, err := site.Lookup("members")
	require.NoError(t, err)
	return reg, backend
}
