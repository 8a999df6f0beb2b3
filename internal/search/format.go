package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/courserag/internal/retrieval"
)

// Format renders results as labelled blocks separated by blank lines, with
// one citation per row. Error results are returned verbatim without
// citations. courseName and lesson only shape the empty-result message.
func (r *Resolver) Format(ctx context.Context, results retrieval.SearchResults, courseName string, lesson *int) (string, []Citation) {
	if results.Error != "" {
		return results.Error, nil
	}
	if results.IsEmpty() {
		return NoContentMessage(courseName, lesson), nil
	}

	blocks := make([]string, 0, len(results.Documents))
	citations := make([]Citation, 0, len(results.Documents))
	for i, doc := range results.Documents {
		var meta retrieval.ChunkMetadata
		if i < len(results.Metadata) {
			meta = results.Metadata[i]
		}
		title := meta.CourseTitle
		if title == "" {
			title = "unknown"
		}

		label := title
		var link *string
		if meta.LessonNumber != nil {
			label = fmt.Sprintf("%s - Lesson %d", title, *meta.LessonNumber)
			l, err := r.LessonLink(ctx, title, *meta.LessonNumber)
			if err != nil {
				r.logger.Debug("lesson link lookup failed", "course", title, "lesson", *meta.LessonNumber, "error", err)
			} else {
				link = l
			}
		}

		blocks = append(blocks, "["+label+"]\n"+doc)
		citations = append(citations, Citation{Text: label, Link: link})
	}
	return strings.Join(blocks, "\n\n"), citations
}

// NoContentMessage is the text returned when a search matched nothing.
func NoContentMessage(courseName string, lesson *int) string {
	var b strings.Builder
	b.WriteString("No relevant content found")
	if courseName != "" {
		fmt.Fprintf(&b, " in course '%s'", courseName)
	}
	if lesson != nil {
		fmt.Fprintf(&b, " in lesson %d", *lesson)
	}
	b.WriteString(".")
	return b.String()
}
