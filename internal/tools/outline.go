package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/courserag/internal/llm"
)

// OutlineName is the model-facing name of the outline tool.
const OutlineName = "get_course_outline"

// Outliner renders a course outline from the catalog.
// *search.Resolver satisfies it.
type Outliner interface {
	GetOutline(ctx context.Context, courseTitle string) (string, bool, error)
}

// OutlineTool returns a course's title, link, instructor and lesson list.
type OutlineTool struct {
	outliner Outliner
}

// NewOutlineTool creates the tool over outliner.
func NewOutlineTool(o Outliner) *OutlineTool {
	return &OutlineTool{outliner: o}
}

func (t *OutlineTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        OutlineName,
		Description: "Get the complete outline of a course: title, course link, instructor and every lesson with its number, title and link",
		InputSchema: llm.InputSchema{
			Type: "object",
			Properties: map[string]llm.Property{
				"course_title": {
					Type:        "string",
					Description: "Course title (partial matches work, e.g. 'MCP', 'Introduction')",
				},
			},
			Required: []string{"course_title"},
		},
	}
}

type outlineInput struct {
	CourseTitle string `json:"course_title"`
}

func (t *OutlineTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var in outlineInput
	if err := decodeInput(input, &in); err != nil {
		return Result{}, err
	}
	if in.CourseTitle == "" {
		return Result{}, errors.New("missing required argument: course_title")
	}

	outline, ok, err := t.outliner.GetOutline(ctx, in.CourseTitle)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Text: fmt.Sprintf("No course found matching '%s'.", in.CourseTitle)}, nil
	}
	return Result{Text: outline}, nil
}
