package rag

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kalambet/courserag/internal/agent"
	"github.com/kalambet/courserag/internal/llm"
	"github.com/kalambet/courserag/internal/search"
	"github.com/kalambet/courserag/internal/session"
	"github.com/kalambet/courserag/internal/storage"
	"github.com/kalambet/courserag/internal/tools"
)

type mockLoop struct {
	runFn func(ctx context.Context, query, history string, runner agent.ToolRunner) (string, agent.Trace, error)
}

func (m *mockLoop) Run(ctx context.Context, query, history string, runner agent.ToolRunner) (string, agent.Trace, error) {
	return m.runFn(ctx, query, history, runner)
}

type mockIndex struct {
	courses []storage.Course
	chunks  []storage.Chunk
	cleared bool
	addErr  error

	// chunkErrFn, when set, is consulted before chunks are stored.
	chunkErrFn func() error
}

func (m *mockIndex) AddCourse(_ context.Context, c storage.Course) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.courses = append(m.courses, c)
	return nil
}

func (m *mockIndex) AddChunks(_ context.Context, chunks []storage.Chunk) error {
	if m.chunkErrFn != nil {
		if err := m.chunkErrFn(); err != nil {
			return err
		}
	}
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *mockIndex) CourseTitles(context.Context) ([]string, error) {
	var out []string
	for _, c := range m.courses {
		out = append(out, c.Title)
	}
	return out, nil
}

func (m *mockIndex) CourseCount(context.Context) (int, error) { return len(m.courses), nil }

func (m *mockIndex) Clear(context.Context) error {
	m.cleared = true
	m.courses, m.chunks = nil, nil
	return nil
}

// fileProcessor derives a course from the document's first line.
type fileProcessor struct{}

func (p fileProcessor) ProcessFile(path string) (storage.Course, []storage.Chunk, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return storage.Course{}, nil, err
	}
	return p.Parse(string(b))
}

func (fileProcessor) Parse(text string) (storage.Course, []storage.Chunk, error) {
	title, body, _ := strings.Cut(text, "\n")
	if title == "" {
		return storage.Course{}, nil, errors.New("no title")
	}
	return storage.Course{Title: title}, []storage.Chunk{{Content: body, CourseTitle: title}}, nil
}

type citingTool struct {
	citations []search.Citation
}

func (t *citingTool) Definition() llm.Tool { return llm.Tool{Name: "search_course_content"} }

func (t *citingTool) Execute(context.Context, json.RawMessage) (tools.Result, error) {
	return tools.Result{Text: "found", Citations: t.citations}, nil
}

func strp(s string) *string { return &s }

func newRegistry(c ...search.Citation) *tools.Registry {
	r := tools.NewRegistry()
	r.Register(&citingTool{citations: c})
	return r
}

func TestQueryPromptAndCitations(t *testing.T) {
	want := []search.Citation{{Text: "Course A - Lesson 1", Link: strp("https://a/1")}}
	var dispatcher agent.ToolRunner
	loop := &mockLoop{runFn: func(ctx context.Context, query, history string, runner agent.ToolRunner) (string, agent.Trace, error) {
		if query != "Answer this question about course materials: what is RAG?" {
			t.Errorf("query = %q", query)
		}
		if history != "" {
			t.Errorf("history = %q, want empty", history)
		}
		if len(runner.Definitions()) != 1 {
			t.Errorf("definitions = %d", len(runner.Definitions()))
		}
		if _, err := runner.Invoke(ctx, "search_course_content", json.RawMessage(`{"query":"rag"}`)); err != nil {
			t.Fatal(err)
		}
		dispatcher = runner
		return "RAG is retrieval plus generation.", agent.Trace{ModelCalls: 2, Rounds: 1}, nil
	}}

	svc := NewService(Deps{Loop: loop, Tools: newRegistry(want...), Sessions: session.NewManager(2)})
	ans, err := svc.Query(context.Background(), "what is RAG?", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Text != "RAG is retrieval plus generation." {
		t.Errorf("answer = %q", ans.Text)
	}
	if !reflect.DeepEqual(ans.Citations, want) {
		t.Errorf("citations = %+v, want %+v", ans.Citations, want)
	}
	if got := dispatcher.(*tools.Dispatcher).Citations(); len(got) != 0 {
		t.Errorf("citations not reset after query: %+v", got)
	}
}

func TestQueryNoToolsNoCitations(t *testing.T) {
	loop := &mockLoop{runFn: func(context.Context, string, string, agent.ToolRunner) (string, agent.Trace, error) {
		return "General answer.", agent.Trace{ModelCalls: 1}, nil
	}}
	svc := NewService(Deps{Loop: loop, Tools: newRegistry(search.Citation{Text: "unused"})})
	ans, err := svc.Query(context.Background(), "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(ans.Citations) != 0 {
		t.Errorf("citations = %+v, want none", ans.Citations)
	}
}

func TestQuerySessionHistory(t *testing.T) {
	sessions := session.NewManager(2)
	id := sessions.CreateSession()
	sessions.AddExchange(id, "first?", "first answer")

	var gotHistory string
	loop := &mockLoop{runFn: func(_ context.Context, _, history string, _ agent.ToolRunner) (string, agent.Trace, error) {
		gotHistory = history
		return "second answer", agent.Trace{}, nil
	}}
	svc := NewService(Deps{Loop: loop, Sessions: sessions})

	if _, err := svc.Query(context.Background(), "second?", id); err != nil {
		t.Fatal(err)
	}
	if gotHistory != "User: first?\nAssistant: first answer" {
		t.Errorf("history = %q", gotHistory)
	}
	h, _ := sessions.History(id)
	if !strings.HasSuffix(h, "User: second?\nAssistant: second answer") {
		t.Errorf("exchange not recorded: %q", h)
	}
}

func TestQueryModelFault(t *testing.T) {
	cause := &llm.APIError{StatusCode: 500, Message: "overloaded"}
	sessions := session.NewManager(2)
	id := sessions.CreateSession()
	loop := &mockLoop{runFn: func(context.Context, string, string, agent.ToolRunner) (string, agent.Trace, error) {
		return "", agent.Trace{ModelCalls: 1}, cause
	}}
	svc := NewService(Deps{Loop: loop, Sessions: sessions})

	_, err := svc.Query(context.Background(), "q", id)
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *llm.APIError", err)
	}
	if _, ok := sessions.History(id); ok {
		t.Error("failed query must not be recorded")
	}
}

func writeDocs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestAddCourseDocument(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.txt": "Course A\nbody"})
	idx := &mockIndex{}
	svc := NewService(Deps{Index: idx, Processor: fileProcessor{}})

	course, n, err := svc.AddCourseDocument(context.Background(), filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if course.Title != "Course A" || n != 1 {
		t.Errorf("course = %+v, chunks = %d", course, n)
	}
	if len(idx.courses) != 1 || len(idx.chunks) != 1 {
		t.Errorf("index = %d courses, %d chunks", len(idx.courses), len(idx.chunks))
	}
}

func TestAddCourseText(t *testing.T) {
	idx := &mockIndex{}
	svc := NewService(Deps{Index: idx, Processor: fileProcessor{}})
	course, n, err := svc.AddCourseText(context.Background(), "Course T\nbody")
	if err != nil {
		t.Fatal(err)
	}
	if course.Title != "Course T" || n != 1 || len(idx.courses) != 1 {
		t.Errorf("course = %+v, chunks = %d, indexed = %d", course, n, len(idx.courses))
	}

	if _, _, err := svc.AddCourseText(context.Background(), ""); err == nil {
		t.Error("expected error for document without title")
	}
}

func TestAddCourseDocumentIndexError(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.txt": "Course A\nbody"})
	cause := errors.New("disk full")
	svc := NewService(Deps{Index: &mockIndex{addErr: cause}, Processor: fileProcessor{}})
	if _, _, err := svc.AddCourseDocument(context.Background(), filepath.Join(dir, "a.txt")); !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
}

func TestAddCourseFolder(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"a.txt":     "Course A\nbody a",
		"b.txt":     "Course B\nbody b",
		"dup.txt":   "Course A\nagain",
		"bad.txt":   "",
		"notes.md":  "Course M\nignored",
		"image.png": "binary",
	})
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	idx := &mockIndex{}
	svc := NewService(Deps{Index: idx, Processor: fileProcessor{}})
	courses, chunks, err := svc.AddCourseFolder(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("AddCourseFolder: %v", err)
	}
	if courses != 2 || chunks != 2 {
		t.Errorf("courses = %d, chunks = %d; want 2, 2", courses, chunks)
	}

	// A second pass finds nothing new.
	courses, _, err = svc.AddCourseFolder(context.Background(), dir, false)
	if err != nil || courses != 0 {
		t.Errorf("second pass: courses = %d, err = %v", courses, err)
	}
	if idx.cleared {
		t.Error("index cleared without clearExisting")
	}
}

func TestAddCourseFolderRetriesFailedChunks(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.txt": "Course A\nbody a"})
	calls := 0
	idx := &mockIndex{chunkErrFn: func() error {
		calls++
		if calls == 1 {
			return errors.New("embedding backend unavailable")
		}
		return nil
	}}
	svc := NewService(Deps{Index: idx, Processor: fileProcessor{}})

	courses, _, err := svc.AddCourseFolder(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if courses != 0 || len(idx.courses) != 0 {
		t.Fatalf("first pass: courses = %d, catalog = %v; want nothing listed", courses, idx.courses)
	}

	courses, chunks, err := svc.AddCourseFolder(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if courses != 1 || chunks != 1 {
		t.Errorf("second pass: courses = %d, chunks = %d; want 1, 1", courses, chunks)
	}
	titles, _ := idx.CourseTitles(context.Background())
	if !reflect.DeepEqual(titles, []string{"Course A"}) {
		t.Errorf("catalog = %v, want [Course A]", titles)
	}
}

func TestAddCourseTextChunkErrorLeavesCatalogEmpty(t *testing.T) {
	cause := errors.New("embedding backend unavailable")
	idx := &mockIndex{chunkErrFn: func() error { return cause }}
	svc := NewService(Deps{Index: idx, Processor: fileProcessor{}})

	if _, _, err := svc.AddCourseText(context.Background(), "Course T\nbody"); !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
	if len(idx.courses) != 0 {
		t.Errorf("catalog = %v, want empty after chunk failure", idx.courses)
	}
}

func TestAddCourseFolderClearExisting(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.txt": "Course A\nbody"})
	idx := &mockIndex{courses: []storage.Course{{Title: "Course A"}, {Title: "Old"}}}
	svc := NewService(Deps{Index: idx, Processor: fileProcessor{}})

	courses, _, err := svc.AddCourseFolder(context.Background(), dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if !idx.cleared || courses != 1 {
		t.Errorf("cleared = %v, courses = %d", idx.cleared, courses)
	}
	if len(idx.courses) != 1 || idx.courses[0].Title != "Course A" {
		t.Errorf("index courses = %+v", idx.courses)
	}
}

func TestAddCourseFolderMissingDir(t *testing.T) {
	svc := NewService(Deps{Index: &mockIndex{}, Processor: fileProcessor{}})
	if _, _, err := svc.AddCourseFolder(context.Background(), filepath.Join(t.TempDir(), "nope"), false); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestCourseAnalytics(t *testing.T) {
	idx := &mockIndex{courses: []storage.Course{{Title: "B"}, {Title: "A"}}}
	got, err := NewService(Deps{Index: idx}).CourseAnalytics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalCourses != 2 || !reflect.DeepEqual(got.CourseTitles, []string{"B", "A"}) {
		t.Errorf("analytics = %+v", got)
	}

	empty, err := NewService(Deps{Index: &mockIndex{}}).CourseAnalytics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if empty.CourseTitles == nil || empty.TotalCourses != 0 {
		t.Errorf("empty analytics = %+v", empty)
	}
}

func TestQueryWithoutModel(t *testing.T) {
	if _, err := NewService(Deps{}).Query(context.Background(), "q", ""); !errors.Is(err, ErrNoModel) {
		t.Errorf("err = %v, want ErrNoModel", err)
	}
}
