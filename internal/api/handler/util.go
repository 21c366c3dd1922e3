package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/legal-settlement/internal/api/middleware"
	"github.com/ayo6706/legal-settlement/internal/api/problem"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	problem.Write(w, r, status, problem.Type(problemType), http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return uuid.Nil, false, errors.New("missing actor in auth context")
	}
	return actor.ID, actor.IsAdmin(), nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

// pageParams reads ?page=&page_size=. Missing values fall back to the repository defaults.
func pageParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, size := 0, 0
	var err error
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		if size, err = strconv.Atoi(v); err != nil || size < 1 {
			return 0, 0, errors.New("page_size must be a positive integer")
		}
	}
	return page, size, nil
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
