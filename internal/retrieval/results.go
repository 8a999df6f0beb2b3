package retrieval

// ChunkMetadata locates a content chunk within its course.
type ChunkMetadata struct {
	CourseTitle  string
	LessonNumber *int
	ChunkIndex   int
}

// SearchResults holds parallel slices of matched chunks, nearest first. When
// Error is set all slices are empty.
type SearchResults struct {
	Documents []string
	Metadata  []ChunkMetadata
	Distances []float64
	Error     string
}

// Empty returns a result carrying only an error message.
func Empty(msg string) SearchResults {
	return SearchResults{Error: msg}
}

// IsEmpty reports whether no documents were found.
func (r SearchResults) IsEmpty() bool {
	return len(r.Documents) == 0
}

// FromContent converts content-collection records into SearchResults.
func FromContent(records []ScoredRecord) SearchResults {
	res := SearchResults{
		Documents: make([]string, 0, len(records)),
		Metadata:  make([]ChunkMetadata, 0, len(records)),
		Distances: make([]float64, 0, len(records)),
	}
	for _, r := range records {
		res.Documents = append(res.Documents, r.Document)
		res.Metadata = append(res.Metadata, chunkMetadata(r.Metadata))
		res.Distances = append(res.Distances, r.Distance)
	}
	return res
}

func chunkMetadata(m map[string]any) ChunkMetadata {
	title, _ := metaString(m, "course_title")
	md := ChunkMetadata{CourseTitle: title}
	if n, ok := metaInt(m, "lesson_number"); ok {
		md.LessonNumber = &n
	}
	md.ChunkIndex, _ = metaInt(m, "chunk_index")
	return md
}

func metaString(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

func metaInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func optString(m map[string]any, key string) *string {
	if s, ok := metaString(m, key); ok {
		return &s
	}
	return nil
}
