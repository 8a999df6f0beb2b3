package retrieval

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/kalambet/courserag/internal/storage"
)

// openTestStore creates an in-memory database with the course collections.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLiteStore(st.DB())
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

// unit returns a one-hot vector of length dim.
func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func contentRecord(id, title string, lesson *int, idx int, vec []float32) Record {
	return Record{
		ID:        id,
		Document:  "text of " + id,
		Embedding: vec,
		Metadata: map[string]any{
			"course_title":  title,
			"lesson_number": lesson,
			"chunk_index":   idx,
		},
	}
}

func intp(n int) *int { return &n }

func TestAddAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	vec := makeTestVector(768, 0.1)
	if err := s.Add(ctx, ContentCollection, []Record{contentRecord("MCP_0", "MCP", intp(1), 0, vec)}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.Query(ctx, ContentCollection, vec, 1, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Distance > 0.01 {
		t.Errorf("distance = %f, want < 0.01", results[0].Distance)
	}
	if results[0].ID != "MCP_0" {
		t.Errorf("ID = %q, want %q", results[0].ID, "MCP_0")
	}
	if got := results[0].Metadata["lesson_number"]; got != 1 {
		t.Errorf("lesson_number = %v (%T), want 1", got, got)
	}
	if got := results[0].Metadata["course_title"]; got != "MCP" {
		t.Errorf("course_title = %v, want MCP", got)
	}
}

func TestQuery_TopKOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, contentRecord(fmt.Sprintf("C_%d", i), "C", nil, i, unit(10, i)))
	}
	if err := s.Add(ctx, ContentCollection, records); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Query leans towards dims 3, then 7, then 1.
	q := make([]float32, 10)
	q[3], q[7], q[1] = 0.9, 0.5, 0.2
	results, err := s.Query(ctx, ContentCollection, q, 3, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"C_3", "C_7", "C_1"}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, id := range want {
		if results[i].ID != id {
			t.Errorf("results[%d] = %s, want %s", i, results[i].ID, id)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("distances not ascending: %v then %v", results[i-1].Distance, results[i].Distance)
		}
	}
}

func TestQuery_Filter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := makeTestVector(4, 0.5)
	records := []Record{
		contentRecord("A_0", "A", intp(1), 0, v),
		contentRecord("A_1", "A", intp(2), 1, v),
		contentRecord("B_0", "B", intp(2), 0, v),
		contentRecord("B_1", "B", nil, 1, v),
	}
	if err := s.Add(ctx, ContentCollection, records); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   map[string]bool
	}{
		{"nil", nil, map[string]bool{"A_0": true, "A_1": true, "B_0": true, "B_1": true}},
		{"course", Filter{"course_title": "A"}, map[string]bool{"A_0": true, "A_1": true}},
		{"lesson", Filter{"lesson_number": 2}, map[string]bool{"A_1": true, "B_0": true}},
		{"and", Filter{"$and": []Filter{{"course_title": "B"}, {"lesson_number": 2}}}, map[string]bool{"B_0": true}},
		{"and any", Filter{"$and": []any{map[string]any{"course_title": "A"}, map[string]any{"lesson_number": 1}}}, map[string]bool{"A_0": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.Query(ctx, ContentCollection, v, 10, tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(results) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.want))
			}
			for _, r := range results {
				if !tt.want[r.ID] {
					t.Errorf("unexpected result %s", r.ID)
				}
			}
		})
	}
}

func TestQuery_UnknownFilterField(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Query(context.Background(), ContentCollection, makeTestVector(4, 0.1), 5, Filter{"author": "x"})
	if err == nil {
		t.Fatal("expected error for unsupported filter field")
	}
}

func TestQuery_UnknownCollection(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Query(context.Background(), "nope", makeTestVector(4, 0.1), 5, nil); err == nil {
		t.Fatal("expected error for unknown collection")
	}
}

func TestQuery_EmptyAndZeroVector(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results, err := s.Query(ctx, ContentCollection, makeTestVector(4, 0.1), 5, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty collection", len(results))
	}

	if err := s.Add(ctx, ContentCollection, []Record{contentRecord("X_0", "X", nil, 0, unit(4, 0))}); err != nil {
		t.Fatal(err)
	}
	results, err = s.Query(ctx, ContentCollection, make([]float32, 4), 5, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if results != nil {
		t.Errorf("zero vector returned %d results, want none", len(results))
	}
}

func TestGet_OrderAndAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []Record{
		contentRecord("R_0", "R", nil, 0, unit(3, 0)),
		contentRecord("R_1", "R", nil, 1, unit(3, 1)),
		contentRecord("R_2", "R", nil, 2, unit(3, 2)),
	}
	if err := s.Add(ctx, ContentCollection, records); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, ContentCollection, []string{"R_2", "missing", "R_0"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0].ID != "R_2" || got[1].ID != "R_0" {
		t.Errorf("Get order = %v", ids(got))
	}
	if got[0].Metadata["lesson_number"] != nil {
		t.Errorf("lesson_number = %v, want nil", got[0].Metadata["lesson_number"])
	}

	all, err := s.Get(ctx, ContentCollection, nil)
	if err != nil {
		t.Fatalf("Get all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "R_0" || all[2].ID != "R_2" {
		t.Errorf("Get all = %v, want insertion order", ids(all))
	}

	none, err := s.Get(ctx, ContentCollection, []string{})
	if err != nil || none != nil {
		t.Errorf("Get empty = %v, %v", none, err)
	}
}

func TestCountAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, CatalogCollection, []Record{{
		ID: "ML", Document: "ML", Embedding: unit(3, 0),
		Metadata: map[string]any{"title": "ML", "lessons_json": "[]", "lesson_count": 0},
	}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n, err := s.Count(ctx, CatalogCollection)
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v, want 1", n, err)
	}
	if err := s.Clear(ctx, CatalogCollection); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	n, err = s.Count(ctx, CatalogCollection)
	if err != nil || n != 0 {
		t.Fatalf("Count after clear = %d, %v, want 0", n, err)
	}
}

func TestAdd_ReplacesExistingID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := contentRecord("D_0", "D", nil, 0, unit(2, 0))
	if err := s.Add(ctx, ContentCollection, []Record{r}); err != nil {
		t.Fatal(err)
	}
	r.Document = "rewritten"
	if err := s.Add(ctx, ContentCollection, []Record{r}); err != nil {
		t.Fatalf("re-adding id: %v", err)
	}
	n, _ := s.Count(ctx, ContentCollection)
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	got, err := s.Get(ctx, ContentCollection, []string{"D_0"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Document != "rewritten" {
		t.Errorf("Get = %+v, want the rewritten record", got)
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1.5, -2.25, math.MaxFloat32}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestDotProduct_DimensionMismatch(t *testing.T) {
	a := []float32{1, 0}
	if got := dotProduct(a, []float32{1, 0, 0}, norm(a)); got != 0 {
		t.Errorf("dotProduct = %v, want 0", got)
	}
}

func ids(rs []Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
