package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Collection names used by the course index.
const (
	CatalogCollection = "course_catalog"
	ContentCollection = "course_content"
)

// Index is a vector store partitioned into named collections. The SQLite
// implementation scans every vector; an ANN backend can replace it behind the
// same interface.
type Index interface {
	// Add writes records into the collection, replacing records with the same id.
	Add(ctx context.Context, collection string, records []Record) error

	// Query returns the topK records nearest to vector that satisfy filter,
	// nearest first. A nil filter matches everything.
	Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// Get returns records by id in the order requested; unknown ids are
	// skipped. A nil ids slice returns every record in the collection.
	Get(ctx context.Context, collection string, ids []string) ([]Record, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Clear removes every record from the collection.
	Clear(ctx context.Context, collection string) error
}

// Record is one entry of a collection. Document is the text that was
// embedded; Metadata holds the collection's typed columns (string, int or nil).
type Record struct {
	ID        string
	Document  string
	Embedding []float32
	Metadata  map[string]any
}

// ScoredRecord is a Record with its cosine distance to the query vector.
type ScoredRecord struct {
	Record
	Distance float64
}

// Filter is an equality predicate over metadata, e.g.
//
//	{"course_title": "MCP"}
//	{"$and": []Filter{{"course_title": "MCP"}, {"lesson_number": 2}}}
type Filter map[string]any

// where renders the filter as a SQL predicate over the allowed columns.
func (f Filter) where(columns map[string]bool) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any
	for _, k := range keys {
		v := f[k]
		if k == "$and" {
			subs, err := subFilters(v)
			if err != nil {
				return "", nil, err
			}
			for _, sub := range subs {
				clause, subArgs, err := sub.where(columns)
				if err != nil {
					return "", nil, err
				}
				if clause != "" {
					clauses = append(clauses, clause)
					args = append(args, subArgs...)
				}
			}
			continue
		}
		if !columns[k] {
			return "", nil, fmt.Errorf("unsupported filter field %q", k)
		}
		v = sqlValue(v)
		if v == nil {
			clauses = append(clauses, k+" IS NULL")
			continue
		}
		clauses = append(clauses, k+" = ?")
		args = append(args, v)
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return "(" + strings.Join(clauses, " AND ") + ")", args, nil
}

func subFilters(v any) ([]Filter, error) {
	switch val := v.(type) {
	case []Filter:
		return val, nil
	case []map[string]any:
		out := make([]Filter, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out, nil
	case []any:
		out := make([]Filter, 0, len(val))
		for _, item := range val {
			switch m := item.(type) {
			case Filter:
				out = append(out, m)
			case map[string]any:
				out = append(out, m)
			default:
				return nil, fmt.Errorf("$and operand has type %T, want object", item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$and value has type %T, want list", v)
	}
}

// sqlValue dereferences optional values so they bind as SQL NULL or a scalar.
func sqlValue(v any) any {
	switch val := v.(type) {
	case *string:
		if val == nil {
			return nil
		}
		return *val
	case *int:
		if val == nil {
			return nil
		}
		return *val
	default:
		return v
	}
}
