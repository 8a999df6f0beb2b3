package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Compile-time check that SQLiteStore implements Index.
var _ Index = (*SQLiteStore)(nil)

// collection maps a collection name to its table and metadata columns.
type collection struct {
	table   string
	columns []string
	allowed map[string]bool
}

func newCollection(table string, columns ...string) collection {
	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}
	return collection{table: table, columns: columns, allowed: allowed}
}

var collections = map[string]collection{
	CatalogCollection: newCollection("course_catalog", "title", "instructor", "course_link", "lessons_json", "lesson_count"),
	ContentCollection: newCollection("course_content", "course_title", "lesson_number", "chunk_index"),
}

func lookupCollection(name string) (collection, error) {
	c, ok := collections[name]
	if !ok {
		return collection{}, fmt.Errorf("unknown collection %q", name)
	}
	return c, nil
}

func (c collection) selectColumns() string {
	return "id, document, embedding, " + strings.Join(c.columns, ", ")
}

// SQLiteStore provides vector storage and brute-force cosine similarity search
// backed by SQLite. Tables are created by the storage migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Add writes records into the collection in one transaction. A record whose
// id already exists replaces the stored one.
func (s *SQLiteStore) Add(ctx context.Context, name string, records []Record) error {
	c, err := lookupCollection(name)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	placeholders := strings.Repeat(", ?", len(c.columns))
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO `+c.table+` (`+c.selectColumns()+`) VALUES (?, ?, ?`+placeholders+`)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		args := make([]any, 0, 3+len(c.columns))
		args = append(args, r.ID, r.Document, encodeFloat32s(r.Embedding))
		for _, col := range c.columns {
			args = append(args, sqlValue(r.Metadata[col]))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Query.
// Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Query performs brute-force cosine similarity search over the vectors that
// satisfy filter, returning the top-K nearest records with distance 1 - cos.
func (s *SQLiteStore) Query(ctx context.Context, name string, vector []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	c, err := lookupCollection(name)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	clause, args, err := filter.where(c.allowed)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, embedding FROM ` + c.table
	if clause != "" {
		query += ` WHERE ` + clause
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs, best first.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	records, err := s.Get(ctx, name, topIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}

	results := make([]ScoredRecord, len(records))
	for i, r := range records {
		results[i] = ScoredRecord{Record: r, Distance: 1 - float64(scores[r.ID])}
	}
	return results, nil
}

// Get returns records matching the given IDs in request order. A nil ids
// slice returns the whole collection in insertion order.
func (s *SQLiteStore) Get(ctx context.Context, name string, ids []string) ([]Record, error) {
	c, err := lookupCollection(name)
	if err != nil {
		return nil, err
	}
	if ids != nil && len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + c.selectColumns() + ` FROM ` + c.table
	var queryArgs []any
	if ids == nil {
		query += ` ORDER BY rowid ASC`
	} else {
		queryArgs = make([]any, len(ids))
		for i, id := range ids {
			queryArgs[i] = id
		}
		query += ` WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	}

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying by IDs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows, c)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if ids == nil {
		return records, nil
	}

	// IN does not preserve order.
	byID := make(map[string]Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	ordered := make([]Record, 0, len(records))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

func scanRecord(rows *sql.Rows, c collection) (Record, error) {
	var r Record
	var blob []byte
	meta := make([]any, len(c.columns))
	dest := make([]any, 0, 3+len(c.columns))
	dest = append(dest, &r.ID, &r.Document, &blob)
	for i := range meta {
		dest = append(dest, &meta[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return Record{}, fmt.Errorf("scanning row: %w", err)
	}

	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Record{}, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
	}
	r.Embedding = embedding

	r.Metadata = make(map[string]any, len(c.columns))
	for i, col := range c.columns {
		switch v := meta[i].(type) {
		case int64:
			r.Metadata[col] = int(v)
		case []byte:
			r.Metadata[col] = string(v)
		default:
			r.Metadata[col] = v
		}
	}
	return r, nil
}

// Count returns the number of records in the collection.
func (s *SQLiteStore) Count(ctx context.Context, name string) (int, error) {
	c, err := lookupCollection(name)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(&count)
	return count, err
}

// Clear deletes every record in the collection.
func (s *SQLiteStore) Clear(ctx context.Context, name string) error {
	c, err := lookupCollection(name)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+c.table); err != nil {
		return fmt.Errorf("clearing %s: %w", name, err)
	}
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Query to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
