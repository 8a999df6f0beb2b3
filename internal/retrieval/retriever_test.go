package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/courserag/internal/storage"
)

// mockIndex implements Index for testing.
type mockIndex struct {
	addFn   func(ctx context.Context, collection string, records []Record) error
	queryFn func(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]ScoredRecord, error)
	getFn   func(ctx context.Context, collection string, ids []string) ([]Record, error)
	countFn func(ctx context.Context, collection string) (int, error)
	clearFn func(ctx context.Context, collection string) error
}

func (m *mockIndex) Add(ctx context.Context, collection string, records []Record) error {
	if m.addFn != nil {
		return m.addFn(ctx, collection, records)
	}
	return nil
}
func (m *mockIndex) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, collection, vector, topK, filter)
	}
	return nil, nil
}
func (m *mockIndex) Get(ctx context.Context, collection string, ids []string) ([]Record, error) {
	if m.getFn != nil {
		return m.getFn(ctx, collection, ids)
	}
	return nil, nil
}
func (m *mockIndex) Count(ctx context.Context, collection string) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, collection)
	}
	return 0, nil
}
func (m *mockIndex) Clear(ctx context.Context, collection string) error {
	if m.clearFn != nil {
		return m.clearFn(ctx, collection)
	}
	return nil
}

func fixedEmbedder() *Embedder {
	return NewEmbedder(&mockEmbedClient{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(8), nil
		},
	}, "test-model")
}

func TestMatchCourse_TopOne(t *testing.T) {
	var gotTopK int
	var gotCollection string
	idx := &mockIndex{
		queryFn: func(_ context.Context, collection string, _ []float32, topK int, filter Filter) ([]ScoredRecord, error) {
			gotTopK, gotCollection = topK, collection
			if filter != nil {
				t.Errorf("filter = %v, want nil", filter)
			}
			return []ScoredRecord{{
				Record:   Record{ID: "Introduction to MCP", Metadata: map[string]any{"title": "Introduction to MCP"}},
				Distance: 0.25,
			}}, nil
		},
	}
	r := NewRetriever(fixedEmbedder(), idx)

	m, ok, err := r.MatchCourse(context.Background(), "mcp")
	if err != nil || !ok {
		t.Fatalf("MatchCourse = %v, %v", ok, err)
	}
	if gotTopK != 1 || gotCollection != CatalogCollection {
		t.Errorf("query topK=%d collection=%s, want 1 %s", gotTopK, gotCollection, CatalogCollection)
	}
	if m.Title != "Introduction to MCP" {
		t.Errorf("Title = %q", m.Title)
	}
	if m.Similarity != 0.75 {
		t.Errorf("Similarity = %v, want 0.75", m.Similarity)
	}
}

func TestMatchCourse_EmptyCatalog(t *testing.T) {
	r := NewRetriever(fixedEmbedder(), &mockIndex{})
	_, ok, err := r.MatchCourse(context.Background(), "anything")
	if err != nil {
		t.Fatalf("MatchCourse: %v", err)
	}
	if ok {
		t.Error("ok = true for empty catalog")
	}
}

func TestSearchContent_EmbedError(t *testing.T) {
	e := NewEmbedder(&mockEmbedClient{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}, "m")
	r := NewRetriever(e, &mockIndex{
		queryFn: func(context.Context, string, []float32, int, Filter) ([]ScoredRecord, error) {
			t.Fatal("index should not be queried when embedding fails")
			return nil, nil
		},
	})
	_, err := r.SearchContent(context.Background(), "q", 5, nil)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want embedding failure", err)
	}
}

func TestSearchContent_ConvertsRecords(t *testing.T) {
	idx := &mockIndex{
		queryFn: func(_ context.Context, collection string, _ []float32, topK int, filter Filter) ([]ScoredRecord, error) {
			if collection != ContentCollection || topK != 5 {
				t.Errorf("collection=%s topK=%d", collection, topK)
			}
			if filter["course_title"] != "ML" {
				t.Errorf("filter = %v", filter)
			}
			return []ScoredRecord{
				{Record: Record{ID: "ML_0", Document: "a", Metadata: map[string]any{"course_title": "ML", "lesson_number": 1, "chunk_index": 0}}, Distance: 0.1},
				{Record: Record{ID: "ML_1", Document: "b", Metadata: map[string]any{"course_title": "ML", "lesson_number": nil, "chunk_index": 1}}, Distance: 0.2},
			}, nil
		},
	}
	r := NewRetriever(fixedEmbedder(), idx)

	res, err := r.SearchContent(context.Background(), "q", 5, Filter{"course_title": "ML"})
	if err != nil {
		t.Fatalf("SearchContent: %v", err)
	}
	if len(res.Documents) != 2 || len(res.Metadata) != 2 || len(res.Distances) != 2 {
		t.Fatalf("lengths differ: %+v", res)
	}
	if res.Metadata[0].LessonNumber == nil || *res.Metadata[0].LessonNumber != 1 {
		t.Errorf("Metadata[0].LessonNumber = %v", res.Metadata[0].LessonNumber)
	}
	if res.Metadata[1].LessonNumber != nil {
		t.Errorf("Metadata[1].LessonNumber = %v, want nil", *res.Metadata[1].LessonNumber)
	}
	if res.Metadata[1].ChunkIndex != 1 {
		t.Errorf("Metadata[1].ChunkIndex = %d", res.Metadata[1].ChunkIndex)
	}
}

func TestCourseRoundTrip(t *testing.T) {
	s := openTestStore(t)
	r := NewRetriever(fixedEmbedder(), s)
	ctx := context.Background()

	link := "https://example.com/ml"
	l1 := "https://example.com/ml/1"
	course := storage.Course{
		Title:      "Machine Learning",
		CourseLink: &link,
		Lessons: []storage.Lesson{
			{Number: 0, Title: "Welcome", Link: &l1},
			{Number: 1, Title: "Regression"},
		},
	}
	if err := r.AddCourse(ctx, course); err != nil {
		t.Fatalf("AddCourse: %v", err)
	}

	got, err := r.Course(ctx, "Machine Learning")
	if err != nil {
		t.Fatalf("Course: %v", err)
	}
	if got.Title != course.Title || got.CourseLink == nil || *got.CourseLink != link {
		t.Errorf("Course = %+v", got)
	}
	if got.Instructor != nil {
		t.Errorf("Instructor = %q, want nil", *got.Instructor)
	}
	if len(got.Lessons) != 2 || got.Lessons[0].Link == nil || *got.Lessons[0].Link != l1 || got.Lessons[1].Link != nil {
		t.Errorf("Lessons = %+v", got.Lessons)
	}

	if _, err := r.Course(ctx, "machine learning"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Course(lowercase) err = %v, want ErrNotFound", err)
	}
}

func TestAddChunksAndTitles(t *testing.T) {
	s := openTestStore(t)
	r := NewRetriever(fixedEmbedder(), s)
	ctx := context.Background()

	for _, title := range []string{"B Course", "A Course"} {
		if err := r.AddCourse(ctx, storage.Course{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	chunks := []storage.Chunk{
		{Content: "first", CourseTitle: "B Course", LessonNumber: intp(1), ChunkIndex: 0},
		{Content: "second", CourseTitle: "B Course", ChunkIndex: 1},
	}
	if err := r.AddChunks(ctx, chunks); err != nil {
		t.Fatalf("AddChunks: %v", err)
	}

	recs, err := s.Get(ctx, ContentCollection, []string{"B_Course_0", "B_Course_1"})
	if err != nil || len(recs) != 2 {
		t.Fatalf("Get chunks = %d, %v", len(recs), err)
	}

	titles, err := r.CourseTitles(ctx)
	if err != nil {
		t.Fatalf("CourseTitles: %v", err)
	}
	if len(titles) != 2 || titles[0] != "B Course" || titles[1] != "A Course" {
		t.Errorf("CourseTitles = %v", titles)
	}
	n, err := r.CourseCount(ctx)
	if err != nil || n != 2 {
		t.Errorf("CourseCount = %d, %v", n, err)
	}

	if err := r.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := s.Count(ctx, ContentCollection); n != 0 {
		t.Errorf("content count after Clear = %d", n)
	}
	if n, _ := r.CourseCount(ctx); n != 0 {
		t.Errorf("catalog count after Clear = %d", n)
	}
}
