package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/courserag/internal/storage"
)

// Retriever combines embedding and the course index: the catalog collection
// holds one record per course keyed by title, the content collection holds
// the lesson chunks.
type Retriever struct {
	embedder *Embedder
	index    Index
}

// NewRetriever creates a Retriever backed by the given Embedder and Index.
func NewRetriever(embedder *Embedder, index Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// CourseMatch is the nearest catalog entry for a course name hint.
type CourseMatch struct {
	Title      string
	Similarity float64
}

// MatchCourse returns the single catalog entry nearest to name. ok is false
// when the catalog is empty.
func (r *Retriever) MatchCourse(ctx context.Context, name string) (CourseMatch, bool, error) {
	vec, err := r.embedder.Embed(ctx, name)
	if err != nil {
		return CourseMatch{}, false, err
	}
	hits, err := r.index.Query(ctx, CatalogCollection, vec, 1, nil)
	if err != nil {
		return CourseMatch{}, false, err
	}
	if len(hits) == 0 {
		return CourseMatch{}, false, nil
	}
	title, ok := metaString(hits[0].Metadata, "title")
	if !ok {
		title = hits[0].ID
	}
	return CourseMatch{Title: title, Similarity: 1 - hits[0].Distance}, true, nil
}

// SearchContent embeds query and returns the topK nearest content chunks
// satisfying filter.
func (r *Retriever) SearchContent(ctx context.Context, query string, topK int, filter Filter) (SearchResults, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return SearchResults{}, err
	}
	hits, err := r.index.Query(ctx, ContentCollection, vec, topK, filter)
	if err != nil {
		return SearchResults{}, err
	}
	return FromContent(hits), nil
}

// AddCourse writes the catalog record for a course. The embedded document
// is the title.
func (r *Retriever) AddCourse(ctx context.Context, c storage.Course) error {
	vec, err := r.embedder.Embed(ctx, c.Title)
	if err != nil {
		return err
	}
	lessons := c.Lessons
	if lessons == nil {
		lessons = []storage.Lesson{}
	}
	lessonsJSON, err := json.Marshal(lessons)
	if err != nil {
		return fmt.Errorf("encoding lessons: %w", err)
	}
	return r.index.Add(ctx, CatalogCollection, []Record{{
		ID:        c.Title,
		Document:  c.Title,
		Embedding: vec,
		Metadata: map[string]any{
			"title":        c.Title,
			"instructor":   c.Instructor,
			"course_link":  c.CourseLink,
			"lessons_json": string(lessonsJSON),
			"lesson_count": len(c.Lessons),
		},
	}})
}

// AddChunks embeds and stores course content chunks.
func (r *Retriever) AddChunks(ctx context.Context, chunks []storage.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:        c.ID(),
			Document:  c.Content,
			Embedding: vecs[i],
			Metadata: map[string]any{
				"course_title":  c.CourseTitle,
				"lesson_number": c.LessonNumber,
				"chunk_index":   c.ChunkIndex,
			},
		}
	}
	return r.index.Add(ctx, ContentCollection, records)
}

// Course loads a catalog entry by exact title. Returns storage.ErrNotFound
// when absent.
func (r *Retriever) Course(ctx context.Context, title string) (storage.Course, error) {
	recs, err := r.index.Get(ctx, CatalogCollection, []string{title})
	if err != nil {
		return storage.Course{}, err
	}
	if len(recs) == 0 {
		return storage.Course{}, storage.ErrNotFound
	}
	return courseFromRecord(recs[0])
}

// CourseTitles returns every catalog title in insertion order.
func (r *Retriever) CourseTitles(ctx context.Context) ([]string, error) {
	recs, err := r.index.Get(ctx, CatalogCollection, nil)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(recs))
	for _, rec := range recs {
		if t, ok := metaString(rec.Metadata, "title"); ok {
			titles = append(titles, t)
		} else {
			titles = append(titles, rec.ID)
		}
	}
	return titles, nil
}

// CourseCount returns the number of catalog entries.
func (r *Retriever) CourseCount(ctx context.Context) (int, error) {
	return r.index.Count(ctx, CatalogCollection)
}

// Clear empties both collections.
func (r *Retriever) Clear(ctx context.Context) error {
	return errors.Join(
		r.index.Clear(ctx, CatalogCollection),
		r.index.Clear(ctx, ContentCollection),
	)
}

func courseFromRecord(rec Record) (storage.Course, error) {
	c := storage.Course{
		Title:      rec.ID,
		Instructor: optString(rec.Metadata, "instructor"),
		CourseLink: optString(rec.Metadata, "course_link"),
	}
	if t, ok := metaString(rec.Metadata, "title"); ok {
		c.Title = t
	}
	if raw, ok := metaString(rec.Metadata, "lessons_json"); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Lessons); err != nil {
			return storage.Course{}, fmt.Errorf("decoding lessons for %s: %w", rec.ID, err)
		}
	}
	return c, nil
}
