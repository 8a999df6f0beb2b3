// Package tools defines the model-callable tools and the dispatcher that
// routes tool calls by name.
package tools

import (
	"context"
	"encoding/json"

	"github.com/kalambet/courserag/internal/llm"
	"github.com/kalambet/courserag/internal/search"
)

// Result is a tool's text output together with the citations it produced.
type Result struct {
	Text      string
	Citations []search.Citation
}

// Tool is a named operation the model may invoke.
type Tool interface {
	Definition() llm.Tool
	Execute(ctx context.Context, input json.RawMessage) (Result, error)
}
