package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/courserag/internal/ingest"
	"github.com/kalambet/courserag/internal/rag"
	"github.com/kalambet/courserag/internal/storage"
)

const maxQueryBodySize = 1 << 20   // 1MB
const maxIngestBodySize = 10 << 20 // 10MB

// CourseService is the application surface the HTTP handlers call.
// *rag.Service satisfies it.
type CourseService interface {
	Query(ctx context.Context, query, sessionID string) (rag.Answer, error)
	CreateSession() string
	CourseAnalytics(ctx context.Context) (rag.Analytics, error)
	AddCourseText(ctx context.Context, text string) (storage.Course, int, error)
}

// AppDeps holds dependencies for the HTTP handler.
type AppDeps struct {
	Service CourseService
	// Token, when set, is required as a bearer token on /api routes.
	Token  string
	Logger *slog.Logger
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// QueryResponse is returned by POST /api/query.
type QueryResponse struct {
	Answer    string           `json:"answer"`
	Sources   []sourceResponse `json:"sources"`
	SessionID string           `json:"session_id"`
}

type sourceResponse struct {
	Text string  `json:"text"`
	Link *string `json:"link"`
}

// IngestRequest is the body of POST /api/ingest. Content holds a course
// document; with Type "file" it is base64 encoded.
type IngestRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// NewAppHandler builds the HTTP router.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/query", handleQuery(deps))
		r.Get("/courses", handleCourses(deps))
		r.Post("/ingest", handleIngest(deps))
	})
	return r
}

// BearerAuth rejects requests without the given bearer token. An empty
// token disables the check.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = deps.Service.CreateSession()
		}

		ans, err := deps.Service.Query(r.Context(), req.Query, sessionID)
		if err != nil {
			deps.Logger.Error("query failed", "session_id", sessionID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		sources := make([]sourceResponse, len(ans.Citations))
		for i, c := range ans.Citations {
			sources[i] = sourceResponse{Text: c.Text, Link: c.Link}
		}
		writeJSON(w, http.StatusOK, QueryResponse{
			Answer:    ans.Text,
			Sources:   sources,
			SessionID: sessionID,
		})
	}
}

func handleCourses(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Service.CourseAnalytics(r.Context())
		if err != nil {
			deps.Logger.Error("course analytics failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		text := req.Content
		switch req.Type {
		case "", "text":
		case "file":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			text = string(decoded)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported type %q", req.Type)
			return
		}

		course, chunks, err := deps.Service.AddCourseText(r.Context(), text)
		if errors.Is(err, ingest.ErrNoTitle) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			deps.Logger.Error("ingest failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"course_title": course.Title,
			"lessons":      len(course.Lessons),
			"chunks":       chunks,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
