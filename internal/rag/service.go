// Package rag answers course questions and indexes course documents.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/kalambet/courserag/internal/agent"
	"github.com/kalambet/courserag/internal/ingest"
	"github.com/kalambet/courserag/internal/search"
	"github.com/kalambet/courserag/internal/storage"
	"github.com/kalambet/courserag/internal/tools"
)

// ErrNoModel is returned by Query when no model loop is configured.
var ErrNoModel = errors.New("no language model configured")

// Orchestrator runs one question through the model. *agent.Loop satisfies it.
type Orchestrator interface {
	Run(ctx context.Context, query, history string, runner agent.ToolRunner) (string, agent.Trace, error)
}

// History stores prior exchanges per session. *session.Manager satisfies it.
type History interface {
	CreateSession() string
	History(id string) (string, bool)
	AddExchange(id, question, answer string)
}

// Indexer writes and summarizes the course index. *retrieval.Retriever
// satisfies it.
type Indexer interface {
	AddCourse(ctx context.Context, c storage.Course) error
	AddChunks(ctx context.Context, chunks []storage.Chunk) error
	CourseTitles(ctx context.Context) ([]string, error)
	CourseCount(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// DocumentProcessor turns a file into course metadata and chunks.
// *ingest.Processor satisfies it.
type DocumentProcessor interface {
	ProcessFile(path string) (storage.Course, []storage.Chunk, error)
	Parse(text string) (storage.Course, []storage.Chunk, error)
}

// Deps holds the Service collaborators.
type Deps struct {
	Loop      Orchestrator
	Tools     *tools.Registry
	Sessions  History
	Index     Indexer
	Processor DocumentProcessor
	Logger    *slog.Logger
}

// Service is the query and ingestion entry point shared by the HTTP, MCP
// and CLI surfaces.
type Service struct {
	loop      Orchestrator
	tools     *tools.Registry
	sessions  History
	index     Indexer
	processor DocumentProcessor
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tools == nil {
		d.Tools = tools.NewRegistry()
	}
	return &Service{
		loop:      d.Loop,
		tools:     d.Tools,
		sessions:  d.Sessions,
		index:     d.Index,
		processor: d.Processor,
		logger:    d.Logger,
	}
}

// Answer is a generated response and the sources the tools cited.
type Answer struct {
	Text      string            `json:"answer"`
	Citations []search.Citation `json:"sources"`
}

// Query answers query using the session's history when sessionID is set,
// then records the exchange. Only model failures are returned as errors.
func (s *Service) Query(ctx context.Context, query, sessionID string) (Answer, error) {
	if s.loop == nil {
		return Answer{}, ErrNoModel
	}

	var history string
	if sessionID != "" && s.sessions != nil {
		history, _ = s.sessions.History(sessionID)
	}

	d := s.tools.NewDispatcher()
	prompt := "Answer this question about course materials: " + query
	text, trace, err := s.loop.Run(ctx, prompt, history, d)
	if err != nil {
		return Answer{}, err
	}
	s.logger.Debug("query answered",
		"model_calls", trace.ModelCalls,
		"rounds", trace.Rounds,
		"tool_calls", len(trace.ToolCalls),
		"aborted", trace.Aborted,
	)

	citations := d.Citations()
	d.ResetCitations()

	if sessionID != "" && s.sessions != nil {
		s.sessions.AddExchange(sessionID, query, text)
	}
	return Answer{Text: text, Citations: citations}, nil
}

// CreateSession starts a new conversation and returns its id.
func (s *Service) CreateSession() string {
	return s.sessions.CreateSession()
}

// AddCourseDocument indexes a single course document and returns its
// metadata and chunk count.
func (s *Service) AddCourseDocument(ctx context.Context, path string) (storage.Course, int, error) {
	course, chunks, err := s.processor.ProcessFile(path)
	if err != nil {
		return storage.Course{}, 0, err
	}
	return s.add(ctx, course, chunks)
}

// AddCourseText indexes a course document supplied as text.
func (s *Service) AddCourseText(ctx context.Context, text string) (storage.Course, int, error) {
	course, chunks, err := s.processor.Parse(text)
	if err != nil {
		return storage.Course{}, 0, err
	}
	return s.add(ctx, course, chunks)
}

// add writes the chunks before the catalog record. A course is only listed
// once its content is searchable, so a failed run is retried in full.
func (s *Service) add(ctx context.Context, course storage.Course, chunks []storage.Chunk) (storage.Course, int, error) {
	if err := s.index.AddChunks(ctx, chunks); err != nil {
		return storage.Course{}, 0, fmt.Errorf("adding chunks for %q: %w", course.Title, err)
	}
	if err := s.index.AddCourse(ctx, course); err != nil {
		return storage.Course{}, 0, fmt.Errorf("adding course %q: %w", course.Title, err)
	}
	return course, len(chunks), nil
}

// AddCourseFolder indexes every supported document in dir whose course is
// not indexed yet. With clearExisting the index is emptied first. Files
// that fail to parse are logged and skipped.
func (s *Service) AddCourseFolder(ctx context.Context, dir string, clearExisting bool) (courses, chunks int, err error) {
	if clearExisting {
		s.logger.Info("clearing existing course data")
		if err := s.index.Clear(ctx); err != nil {
			return 0, 0, fmt.Errorf("clearing index: %w", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s: %w", dir, err)
	}

	existing, err := s.index.CourseTitles(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing indexed courses: %w", err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return courses, chunks, ctx.Err()
		}
		path := filepath.Join(dir, e.Name())
		if e.IsDir() || !ingest.Supported(path) {
			continue
		}

		course, cs, err := s.processor.ProcessFile(path)
		if err != nil {
			s.logger.Warn("skipping course document", "file", e.Name(), "error", err)
			continue
		}
		if slices.Contains(existing, course.Title) {
			s.logger.Debug("course already indexed", "title", course.Title)
			continue
		}

		if _, _, err := s.add(ctx, course, cs); err != nil {
			s.logger.Warn("indexing course failed", "file", e.Name(), "error", err)
			continue
		}
		existing = append(existing, course.Title)
		courses++
		chunks += len(cs)
		s.logger.Info("indexed course", "title", course.Title, "chunks", len(cs))
	}
	return courses, chunks, nil
}

// Analytics summarizes the catalog.
type Analytics struct {
	TotalCourses int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

// CourseAnalytics reports how many courses are indexed and their titles.
func (s *Service) CourseAnalytics(ctx context.Context) (Analytics, error) {
	n, err := s.index.CourseCount(ctx)
	if err != nil {
		return Analytics{}, fmt.Errorf("counting courses: %w", err)
	}
	titles, err := s.index.CourseTitles(ctx)
	if err != nil {
		return Analytics{}, fmt.Errorf("listing courses: %w", err)
	}
	if titles == nil {
		titles = []string{}
	}
	return Analytics{TotalCourses: n, CourseTitles: titles}, nil
}

// Tools returns the registered tools for surfaces that call them directly.
func (s *Service) Tools() *tools.Registry {
	return s.tools
}
