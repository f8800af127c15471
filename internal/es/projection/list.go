package projection

import (
	"fmt"
	"sort"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Filter matches one projection field. Field names are the JSON field names
// of the view type. Exact filters compare the stringified value; substring
// filters are case-insensitive.
type Filter struct {
	Field string
	Value string
	Exact bool
}

// ListQuery describes a projection list call: filters, ordering, and
// 1-based pagination.
type ListQuery struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Page       int
	Size       int
}

// PageMeta describes where a page sits inside the filtered result set.
// ItemCount is the total number of matched records, not the page length.
type PageMeta struct {
	Page            int  `json:"page"`
	Size            int  `json:"size"`
	ItemCount       int  `json:"itemCount"`
	PageCount       int  `json:"pageCount"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	HasNextPage     bool `json:"hasNextPage"`
}

func (q ListQuery) normalized() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = defaultPageSize
	}
	if q.Size > maxPageSize {
		q.Size = maxPageSize
	}
	return q
}

func (q ListQuery) matches(fields map[string]any) bool {
	for _, f := range q.Filters {
		value, ok := fields[f.Field]
		if !ok {
			return false
		}
		s := stringify(value)
		if f.Exact {
			if s != f.Value {
				return false
			}
		} else if !strings.Contains(strings.ToLower(s), strings.ToLower(f.Value)) {
			return false
		}
	}
	return true
}

func newPageMeta(total, page, size int) PageMeta {
	pageCount := 0
	if total > 0 {
		pageCount = (total + size - 1) / size
	}
	return PageMeta{
		Page:            page,
		Size:            size,
		ItemCount:       total,
		PageCount:       pageCount,
		HasPreviousPage: page > 1,
		HasNextPage:     page < pageCount,
	}
}

// sortRecords orders by the requested JSON field using string-aware
// comparison; non-string values are stringified first. The sort is stable so
// equal keys keep their cache order.
func sortRecords[S any](records []record[S], orderBy string, descending bool) {
	if orderBy == "" {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		a := stringify(records[i].fields[orderBy])
		b := stringify(records[j].fields[orderBy])
		if descending {
			return a > b
		}
		return a < b
	})
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
