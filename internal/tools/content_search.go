package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/courserag/internal/llm"
	"github.com/kalambet/courserag/internal/retrieval"
	"github.com/kalambet/courserag/internal/search"
)

// ContentSearchName is the model-facing name of the content search tool.
const ContentSearchName = "search_course_content"

// ContentSearcher searches course content and renders the hits.
// *search.Resolver satisfies it.
type ContentSearcher interface {
	Search(ctx context.Context, query, courseName string, lesson *int) retrieval.SearchResults
	Format(ctx context.Context, results retrieval.SearchResults, courseName string, lesson *int) (string, []search.Citation)
}

// ContentSearchTool searches lesson content with optional course and lesson
// filters.
type ContentSearchTool struct {
	searcher ContentSearcher
}

// NewContentSearchTool creates the tool over searcher.
func NewContentSearchTool(s ContentSearcher) *ContentSearchTool {
	return &ContentSearchTool{searcher: s}
}

func (t *ContentSearchTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        ContentSearchName,
		Description: "Search course materials with smart course name matching and lesson filtering",
		InputSchema: llm.InputSchema{
			Type: "object",
			Properties: map[string]llm.Property{
				"query": {
					Type:        "string",
					Description: "What to search for in the course content",
				},
				"course_name": {
					Type:        "string",
					Description: "Course title (partial matches work, e.g. 'MCP', 'Introduction')",
				},
				"lesson_number": {
					Type:        "integer",
					Description: "Specific lesson number to search within (e.g. 1, 2, 3)",
				},
			},
			Required: []string{"query"},
		},
	}
}

type contentSearchInput struct {
	Query        string `json:"query"`
	CourseName   string `json:"course_name"`
	LessonNumber *int   `json:"lesson_number"`
}

func (t *ContentSearchTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var in contentSearchInput
	if err := decodeInput(input, &in); err != nil {
		return Result{}, err
	}
	if in.Query == "" {
		return Result{}, errors.New("missing required argument: query")
	}

	results := t.searcher.Search(ctx, in.Query, in.CourseName, in.LessonNumber)
	text, citations := t.searcher.Format(ctx, results, in.CourseName, in.LessonNumber)
	return Result{Text: text, Citations: citations}, nil
}

func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("decoding tool input: %w", err)
	}
	return nil
}
