package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/courserag/internal/storage"
)

// GetOutline resolves courseTitle against the catalog and renders the course
// outline from catalog metadata alone. ok is false when nothing resolves.
func (r *Resolver) GetOutline(ctx context.Context, courseTitle string) (string, bool, error) {
	title, ok, err := r.ResolveCourseName(ctx, courseTitle)
	if err != nil || !ok {
		return "", false, err
	}
	c, err := r.backend.Course(ctx, title)
	if err != nil {
		return "", false, fmt.Errorf("loading course %q: %w", title, err)
	}
	return RenderOutline(c), true, nil
}

// RenderOutline formats a course as
//
//	**Title**
//	Course Link: ...
//	Instructor: ...
//
//	This course has N lessons:
//	Lesson 1: Intro - https://...
func RenderOutline(c storage.Course) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", c.Title)
	if c.CourseLink != nil && *c.CourseLink != "" {
		fmt.Fprintf(&b, "Course Link: %s\n", *c.CourseLink)
	}
	if c.Instructor != nil && *c.Instructor != "" {
		fmt.Fprintf(&b, "Instructor: %s\n", *c.Instructor)
	}
	fmt.Fprintf(&b, "\nThis course has %d lessons:\n", len(c.Lessons))
	for _, l := range c.Lessons {
		fmt.Fprintf(&b, "Lesson %d: %s", l.Number, l.Title)
		if l.Link != nil && *l.Link != "" {
			fmt.Fprintf(&b, " - %s", *l.Link)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
