package admin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Query string parameters understood by the changelist.
const (
	SearchVar = "q"
	OrderVar  = "o"
	PageVar   = "p"
	AllVar    = "all"

	exactSuffix = "__exact"
)

var ErrInvalidLookup = errors.New("invalid changelist parameters")

// Params is the parsed form of a changelist query string.
type Params struct {
	Search   string
	Filters  []Filter
	Ordering []string
	Page     int
	ShowAll  bool
}

type Column struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Sortable bool   `json:"sortable"`
	// Sorted is "asc", "desc" or empty.
	Sorted       string `json:"sorted,omitempty"`
	SortPriority int    `json:"sort_priority,omitempty"`
}

type Row struct {
	ID    int64 `json:"id"`
	Cells []any `json:"cells"`
}

type FilterChoice struct {
	Display  string `json:"display"`
	Selected bool   `json:"selected"`
	Query    string `json:"query"`
}

type FilterSpec struct {
	Field   string         `json:"field"`
	Label   string         `json:"label"`
	Choices []FilterChoice `json:"choices"`
}

// ChangeList is one page of a model's list view.
type ChangeList struct {
	Model           string       `json:"model"`
	Columns         []Column     `json:"columns"`
	Rows            []Row        `json:"rows"`
	Filters         []FilterSpec `json:"filters"`
	Search          string       `json:"search"`
	SearchEnabled   bool         `json:"search_enabled"`
	ResultCount     int          `json:"result_count"`
	FullResultCount int          `json:"full_result_count"`
	Page            int          `json:"page"`
	NumPages        int          `json:"num_pages"`
	PerPage         int          `json:"per_page"`
	ShowAll         bool         `json:"show_all"`
	CanShowAll      bool         `json:"can_show_all"`
}

// filterParams maps each accepted filter parameter to its field.
func (r *Registration) filterParams() map[string]Field {
	params := make(map[string]Field, len(r.Admin.ListFilter))
	for _, name := range r.Admin.ListFilter {
		f, _ := r.Model.Field(name)
		params[filterParam(f)] = f
	}
	return params
}

func filterParam(f Field) string {
	if f.Kind == KindBool {
		return f.Name + exactSuffix
	}
	return f.Name
}

func (r *Registration) sortable() map[string]bool {
	fields := make(map[string]bool, len(r.Admin.ListDisplay)+len(r.Admin.Ordering))
	for _, name := range r.Admin.ListDisplay {
		fields[name] = true
	}
	for _, entry := range r.Admin.Ordering {
		fields[strings.TrimPrefix(entry, "-")] = true
	}
	return fields
}

// ParseParams interprets a changelist query string. Unknown parameters and
// malformed filter or page values yield ErrInvalidLookup; unusable ordering
// entries are dropped.
func (r *Registration) ParseParams(values url.Values) (Params, error) {
	params := Params{
		Search: strings.TrimSpace(values.Get(SearchVar)),
		Page:   1,
	}
	_, params.ShowAll = values[AllVar]

	if raw := values.Get(PageVar); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return Params{}, fmt.Errorf("%w: page %q", ErrInvalidLookup, raw)
		}
		params.Page = page
	}

	filterFields := r.filterParams()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case SearchVar, OrderVar, PageVar, AllVar:
			continue
		}
		f, ok := filterFields[key]
		if !ok {
			return Params{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidLookup, key)
		}
		raw := values.Get(key)
		if f.Kind == KindBool {
			v, err := parseFlag(raw)
			if err != nil {
				return Params{}, fmt.Errorf("%w: %s=%q", ErrInvalidLookup, key, raw)
			}
			params.Filters = append(params.Filters, Filter{Field: f.Name, Value: v})
			continue
		}
		params.Filters = append(params.Filters, Filter{Field: f.Name, Value: raw})
	}

	params.Ordering = r.parseOrdering(values.Get(OrderVar))
	return params, nil
}

func (r *Registration) parseOrdering(raw string) []string {
	sortable := r.sortable()
	seen := map[string]bool{}
	var ordering []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		name := strings.TrimPrefix(entry, "-")
		if name == "" || !sortable[name] || seen[name] {
			continue
		}
		seen[name] = true
		ordering = append(ordering, entry)
	}
	if len(ordering) == 0 {
		return append([]string(nil), r.Admin.Ordering...)
	}
	return ordering
}

func parseFlag(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag %q", raw)
}

func (r *Registration) query(params Params) Query {
	q := Query{
		Filters:  params.Filters,
		Ordering: params.Ordering,
	}
	if terms := strings.Fields(params.Search); len(terms) > 0 && len(r.Admin.SearchFields) > 0 {
		q.Terms = terms
		q.SearchFields = r.Admin.SearchFields
	}
	return q
}

// ChangeList builds the page of results described by values.
func (r *Registration) ChangeList(ctx context.Context, values url.Values) (*ChangeList, error) {
	params, err := r.ParseParams(values)
	if err != nil {
		return nil, err
	}

	q := r.query(params)
	resultCount, err := r.Backend.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", r.Model.Name, err)
	}
	fullCount := resultCount
	if len(q.Terms) > 0 || len(q.Filters) > 0 {
		if fullCount, err = r.Backend.Count(ctx, Query{}); err != nil {
			return nil, fmt.Errorf("count all %s: %w", r.Model.Name, err)
		}
	}

	perPage := r.Admin.ListPerPage
	numPages := (resultCount + perPage - 1) / perPage
	if numPages == 0 {
		numPages = 1
	}
	canShowAll := resultCount <= r.Admin.ListMaxShowAll
	showAll := params.ShowAll && canShowAll

	if !showAll {
		if params.Page > numPages {
			return nil, fmt.Errorf("%w: page %d out of range", ErrInvalidLookup, params.Page)
		}
		q.Limit = perPage
		q.Offset = (params.Page - 1) * perPage
	}

	records, err := r.Backend.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.Model.Name, err)
	}

	filters, err := r.filterSpecs(ctx, values, params)
	if err != nil {
		return nil, err
	}

	cl := &ChangeList{
		Model:           r.Model.Name,
		Columns:         r.columns(params.Ordering),
		Rows:            make([]Row, len(records)),
		Filters:         filters,
		Search:          params.Search,
		SearchEnabled:   len(r.Admin.SearchFields) > 0,
		ResultCount:     resultCount,
		FullResultCount: fullCount,
		Page:            params.Page,
		NumPages:        numPages,
		PerPage:         perPage,
		ShowAll:         showAll,
		CanShowAll:      canShowAll,
	}
	for i, rec := range records {
		cl.Rows[i] = r.row(rec)
	}
	return cl, nil
}

// Each walks every record matching values, ignoring pagination, in batches
// of ListPerPage. It returns the number of rows visited.
func (r *Registration) Each(ctx context.Context, values url.Values, fn func(Row) error) (int, error) {
	params, err := r.ParseParams(values)
	if err != nil {
		return 0, err
	}

	q := r.query(params)
	q.Limit = r.Admin.ListPerPage
	visited := 0
	for {
		if err := ctx.Err(); err != nil {
			return visited, err
		}
		records, err := r.Backend.Query(ctx, q)
		if err != nil {
			return visited, fmt.Errorf("query %s: %w", r.Model.Name, err)
		}
		for _, rec := range records {
			if err := fn(r.row(rec)); err != nil {
				return visited, err
			}
			visited++
		}
		if len(records) < q.Limit {
			return visited, nil
		}
		q.Offset += q.Limit
	}
}

// Columns returns the list_display columns without sort state.
func (r *Registration) Columns() []Column {
	return r.columns(nil)
}

func (r *Registration) columns(ordering []string) []Column {
	sortable := r.sortable()
	cols := make([]Column, len(r.Admin.ListDisplay))
	for i, name := range r.Admin.ListDisplay {
		cols[i] = Column{
			Name:     name,
			Label:    r.Model.label(name),
			Sortable: sortable[name],
		}
		for p, entry := range ordering {
			if strings.TrimPrefix(entry, "-") != name {
				continue
			}
			cols[i].Sorted = "asc"
			if strings.HasPrefix(entry, "-") {
				cols[i].Sorted = "desc"
			}
			cols[i].SortPriority = p + 1
		}
	}
	return cols
}

func (r *Registration) row(rec Record) Row {
	cells := make([]any, len(r.Admin.ListDisplay))
	for i, name := range r.Admin.ListDisplay {
		cells[i] = rec.Values[name]
	}
	return Row{ID: rec.ID, Cells: cells}
}

func (r *Registration) filterSpecs(ctx context.Context, values url.Values, params Params) ([]FilterSpec, error) {
	active := make(map[string]any, len(params.Filters))
	for _, f := range params.Filters {
		active[f.Field] = f.Value
	}

	specs := make([]FilterSpec, 0, len(r.Admin.ListFilter))
	for _, name := range r.Admin.ListFilter {
		f, _ := r.Model.Field(name)
		key := filterParam(f)
		current, isActive := active[name]

		spec := FilterSpec{Field: name, Label: r.Model.label(name)}
		spec.Choices = append(spec.Choices, FilterChoice{
			Display:  "All",
			Selected: !isActive,
			Query:    filterQuery(values, key, nil),
		})

		if f.Kind == KindBool {
			for _, choice := range []struct {
				display string
				value   bool
				raw     string
			}{{"Yes", true, "1"}, {"No", false, "0"}} {
				raw := choice.raw
				spec.Choices = append(spec.Choices, FilterChoice{
					Display:  choice.display,
					Selected: isActive && current == choice.value,
					Query:    filterQuery(values, key, &raw),
				})
			}
			specs = append(specs, spec)
			continue
		}

		distinct, err := r.Backend.Distinct(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("distinct %s.%s: %w", r.Model.Name, name, err)
		}
		for _, v := range distinct {
			raw := fmt.Sprint(v)
			spec.Choices = append(spec.Choices, FilterChoice{
				Display:  raw,
				Selected: isActive && current == raw,
				Query:    filterQuery(values, key, &raw),
			})
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// filterQuery returns the query string selecting value for key, keeping the
// other parameters except the page number. A nil value clears the filter.
func filterQuery(values url.Values, key string, value *string) string {
	next := url.Values{}
	for k, v := range values {
		if k == PageVar || k == key {
			continue
		}
		next[k] = append([]string(nil), v...)
	}
	if value != nil {
		next.Set(key, *value)
	}
	return "?" + next.Encode()
}
