package storage

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Lesson is one numbered lesson of a course.
type Lesson struct {
	Number int     `json:"lesson_number"`
	Title  string  `json:"lesson_title"`
	Link   *string `json:"lesson_link"`
}

// Course is the catalog entry for one course. Title is the unique key.
type Course struct {
	Title      string
	CourseLink *string
	Instructor *string
	Lessons    []Lesson
}

// Lesson returns the lesson with the given number.
func (c Course) Lesson(number int) (Lesson, bool) {
	for _, l := range c.Lessons {
		if l.Number == number {
			return l, true
		}
	}
	return Lesson{}, false
}

// Chunk is one indexed fragment of course text. Identity is
// (CourseTitle, ChunkIndex); LessonNumber is nil for text outside any lesson.
type Chunk struct {
	Content      string
	CourseTitle  string
	LessonNumber *int
	ChunkIndex   int
}

// ID returns the content record id for the chunk.
func (c Chunk) ID() string {
	return ChunkID(c.CourseTitle, c.ChunkIndex)
}

// ChunkID builds "<title>_<index>" with each whitespace character of the
// title replaced by an underscore.
func ChunkID(courseTitle string, index int) string {
	title := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, courseTitle)
	return title + "_" + strconv.Itoa(index)
}
