// Package search resolves loose course and lesson hints into filtered
// retrieval calls and renders the results for the model.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/courserag/internal/retrieval"
	"github.com/kalambet/courserag/internal/storage"
)

// Backend is the course index the resolver reads. *retrieval.Retriever
// satisfies it.
type Backend interface {
	MatchCourse(ctx context.Context, name string) (retrieval.CourseMatch, bool, error)
	SearchContent(ctx context.Context, query string, topK int, filter retrieval.Filter) (retrieval.SearchResults, error)
	Course(ctx context.Context, title string) (storage.Course, error)
	CourseTitles(ctx context.Context) ([]string, error)
	CourseCount(ctx context.Context) (int, error)
}

// Citation is a display label for one search hit plus an optional deep link.
type Citation struct {
	Text string  `json:"text"`
	Link *string `json:"link"`
}

// Options configures a Resolver.
type Options struct {
	// MaxResults caps the content hits returned per search.
	MaxResults int
	// MinSimilarity is the cosine similarity the best catalog match must
	// reach for a course name to resolve. Zero accepts any match.
	MinSimilarity float64
	Logger        *slog.Logger
}

// Resolver translates natural-language queries plus optional course and
// lesson hints into content searches.
type Resolver struct {
	backend       Backend
	maxResults    int
	minSimilarity float64
	logger        *slog.Logger
}

// NewResolver creates a Resolver over backend.
func NewResolver(backend Backend, opts Options) *Resolver {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		backend:       backend,
		maxResults:    opts.MaxResults,
		minSimilarity: opts.MinSimilarity,
		logger:        opts.Logger,
	}
}

// ResolveCourseName maps a partial or paraphrased course name to the exact
// catalog title through a single top-1 embedding match. ok is false when the
// catalog is empty or the match is below the similarity cutoff.
func (r *Resolver) ResolveCourseName(ctx context.Context, hint string) (string, bool, error) {
	m, ok, err := r.backend.MatchCourse(ctx, hint)
	if err != nil {
		return "", false, fmt.Errorf("resolving course %q: %w", hint, err)
	}
	if !ok || m.Title == "" {
		return "", false, nil
	}
	if m.Similarity < r.minSimilarity {
		r.logger.Debug("course match below cutoff", "hint", hint, "match", m.Title, "similarity", m.Similarity)
		return "", false, nil
	}
	return m.Title, true, nil
}

// BuildFilter returns nil, a single equality filter, or an $and of both,
// depending on which of title ("" means absent) and lesson are given.
func BuildFilter(title string, lesson *int) retrieval.Filter {
	switch {
	case title == "" && lesson == nil:
		return nil
	case title != "" && lesson == nil:
		return retrieval.Filter{"course_title": title}
	case title == "":
		return retrieval.Filter{"lesson_number": *lesson}
	default:
		return retrieval.Filter{"$and": []retrieval.Filter{
			{"course_title": title},
			{"lesson_number": *lesson},
		}}
	}
}

// Search queries the content collection. An unresolvable courseName
// short-circuits before the content collection is touched; index failures
// come back as error results rather than errors.
func (r *Resolver) Search(ctx context.Context, query, courseName string, lesson *int) retrieval.SearchResults {
	var title string
	if courseName != "" {
		resolved, ok, err := r.ResolveCourseName(ctx, courseName)
		if err != nil {
			r.logger.Warn("course resolution failed", "course", courseName, "error", err)
			return retrieval.Empty(fmt.Sprintf("Search error: %v", err))
		}
		if !ok {
			return retrieval.Empty(fmt.Sprintf("No course found matching '%s'.", courseName))
		}
		title = resolved
	}

	results, err := r.backend.SearchContent(ctx, query, r.maxResults, BuildFilter(title, lesson))
	if err != nil {
		r.logger.Warn("content search failed", "query", query, "error", err)
		return retrieval.Empty(fmt.Sprintf("Search error: %v", err))
	}
	return results
}

// LessonLink returns the deep link for a lesson from the catalog, or nil when
// the course or lesson has none.
func (r *Resolver) LessonLink(ctx context.Context, courseTitle string, lesson int) (*string, error) {
	c, err := r.backend.Course(ctx, courseTitle)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l, ok := c.Lesson(lesson)
	if !ok {
		return nil, nil
	}
	return l.Link, nil
}

// CourseTitles lists every catalog title.
func (r *Resolver) CourseTitles(ctx context.Context) ([]string, error) {
	return r.backend.CourseTitles(ctx)
}

// CourseCount returns the number of catalog entries.
func (r *Resolver) CourseCount(ctx context.Context) (int, error) {
	return r.backend.CourseCount(ctx)
}
