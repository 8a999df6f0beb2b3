// Package ingest turns course documents into catalog metadata and
// content chunks.
package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/courserag/internal/storage"
)

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 100
)

var (
	titleRe      = regexp.MustCompile(`(?i)^Course Title:\s*(.+)$`)
	courseLinkRe = regexp.MustCompile(`(?i)^Course Link:\s*(.+)$`)
	instructorRe = regexp.MustCompile(`(?i)^Course Instructor:\s*(.+)$`)
	lessonRe     = regexp.MustCompile(`(?i)^Lesson\s+(\d+):\s*(.+)$`)
	lessonLinkRe = regexp.MustCompile(`(?i)^Lesson Link:\s*(.+)$`)
)

// ErrNoTitle is returned for documents whose first line is empty.
var ErrNoTitle = errors.New("document has no course title")

// Processor parses course documents.
type Processor struct {
	chunkSize int
	overlap   int
}

// NewProcessor creates a Processor. Non-positive values fall back to
// 800 and 100 characters.
func NewProcessor(chunkSize, overlap int) *Processor {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 {
		overlap = defaultChunkOverlap
	}
	return &Processor{chunkSize: chunkSize, overlap: overlap}
}

// ProcessFile reads and parses the document at path.
func (p *Processor) ProcessFile(path string) (storage.Course, []storage.Chunk, error) {
	text, err := ReadText(path)
	if err != nil {
		return storage.Course{}, nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return p.Parse(text)
}

// Parse extracts the course header, lessons and chunks from document
// text. The first line is the title (with or without a "Course Title:"
// label); the next three lines may hold the course link and instructor.
func (p *Processor) Parse(text string) (storage.Course, []storage.Chunk, error) {
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n")), "\n")

	first := strings.TrimSpace(lines[0])
	title := first
	if m := titleRe.FindStringSubmatch(first); m != nil {
		title = strings.TrimSpace(m[1])
	}
	if title == "" {
		return storage.Course{}, nil, ErrNoTitle
	}

	course := storage.Course{Title: title}
	for i := 1; i < min(len(lines), 4); i++ {
		line := strings.TrimSpace(lines[i])
		if m := courseLinkRe.FindStringSubmatch(line); m != nil {
			course.CourseLink = ptr(strings.TrimSpace(m[1]))
		} else if m := instructorRe.FindStringSubmatch(line); m != nil {
			course.Instructor = ptr(strings.TrimSpace(m[1]))
		}
	}

	start := min(len(lines), 3)
	if len(lines) > 3 && strings.TrimSpace(lines[3]) == "" {
		start = 4
	}

	var (
		chunks  []storage.Chunk
		current *storage.Lesson
		body    []string
	)
	add := func(content string, lesson *int) {
		chunks = append(chunks, storage.Chunk{
			Content:      content,
			CourseTitle:  title,
			LessonNumber: lesson,
			ChunkIndex:   len(chunks),
		})
	}
	flush := func(last bool) {
		if current == nil {
			return
		}
		lessonText := strings.TrimSpace(strings.Join(body, "\n"))
		if lessonText == "" {
			return
		}
		course.Lessons = append(course.Lessons, *current)
		n := current.Number
		for i, c := range ChunkText(lessonText, p.chunkSize, p.overlap) {
			switch {
			case last:
				c = fmt.Sprintf("Course %s Lesson %d content: %s", title, n, c)
			case i == 0:
				c = fmt.Sprintf("Lesson %d content: %s", n, c)
			}
			add(c, ptr(n))
		}
	}

	for i := start; i < len(lines); i++ {
		line := lines[i]
		m := lessonRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			body = append(body, line)
			continue
		}

		flush(false)
		n, _ := strconv.Atoi(m[1])
		current = &storage.Lesson{Number: n, Title: strings.TrimSpace(m[2])}
		if i+1 < len(lines) {
			if lm := lessonLinkRe.FindStringSubmatch(strings.TrimSpace(lines[i+1])); lm != nil {
				current.Link = ptr(strings.TrimSpace(lm[1]))
				i++
			}
		}
		body = nil
	}
	flush(true)

	if len(chunks) == 0 && len(lines) > start {
		rest := strings.TrimSpace(strings.Join(lines[start:], "\n"))
		for _, c := range ChunkText(rest, p.chunkSize, p.overlap) {
			add(c, nil)
		}
	}

	return course, chunks, nil
}

func ptr[T any](v T) *T { return &v }
