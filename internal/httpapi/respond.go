package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"

	"github.com/jacentio/bibliodigit/internal/library"
	"github.com/jacentio/bibliodigit/internal/validation"
	"github.com/jacentio/bibliodigit/store"
)

const maxBodyBytes = 1 << 20

var (
	errMalformed       = errors.New("malformed request")
	errUnauthenticated = errors.New("authentication required")
	errForbidden       = errors.New("not allowed for this role")
)

type errorBody struct {
	Error      string                 `json:"error"`
	Violations []validation.Violation `json:"violations,omitempty"`
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", errMalformed, err)
}

// statusOf maps an error to its HTTP status. This is the only place where
// errors become status codes.
func statusOf(err error) int {
	switch {
	case validation.IsValidation(err),
		errors.Is(err, errMalformed),
		errors.Is(err, store.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthenticated),
		errors.Is(err, library.ErrInvalidToken),
		errors.Is(err, library.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden),
		errors.Is(err, library.ErrAdminRegistration):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case store.IsConflict(err),
		errors.Is(err, library.ErrLoanNotActive):
		return http.StatusConflict
	case errors.Is(err, store.ErrParentNotFound),
		errors.Is(err, library.ErrNoCopyAvailable),
		errors.Is(err, library.ErrLoanLimit),
		errors.Is(err, library.ErrNoLoanPolicy),
		errors.Is(err, library.ErrInactiveUser):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error()}

	var ve *validation.Error
	if errors.As(err, &ve) {
		body.Error = "validation failed"
		body.Violations = ve.Violations
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"requestId", middleware.GetReqID(r.Context()),
			"error", err)
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeList answers 204 for an empty list.
func writeList[T any](w http.ResponseWriter, items []T) {
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// writeResource sends a stored resource with its version as ETag.
func writeResource(w http.ResponseWriter, status int, version int64, v any) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
	writeJSON(w, status, v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return badRequest(fmt.Errorf("invalid JSON body: %w", err))
	}
	return nil
}

// expectedVersion resolves the version a write must match: If-Match first,
// then the version in the body. Zero means the current version.
func expectedVersion(r *http.Request, bodyVersion int64) (int64, error) {
	h := strings.TrimSpace(r.Header.Get("If-Match"))
	if h == "" || h == "*" {
		return bodyVersion, nil
	}
	h = strings.TrimPrefix(h, "W/")
	v, err := strconv.ParseInt(strings.Trim(h, `"`), 10, 64)
	if err != nil || v < 1 {
		return 0, badRequest(fmt.Errorf("invalid If-Match header %q", r.Header.Get("If-Match")))
	}
	return v, nil
}

// pathParam binds a chi URL parameter into dest.
func pathParam(r *http.Request, name string, dest any) error {
	err := runtime.BindStyledParameterWithLocation("simple", false, name,
		runtime.ParamLocationPath, chi.URLParam(r, name), dest)
	if err != nil {
		return badRequest(err)
	}
	return nil
}

// queryParam binds a form-style query parameter into dest.
func queryParam(r *http.Request, name string, required bool, dest any) error {
	if err := runtime.BindQueryParameter("form", true, required, name, r.URL.Query(), dest); err != nil {
		return badRequest(err)
	}
	if required && reflect.ValueOf(dest).Elem().IsZero() {
		return badRequest(fmt.Errorf("query parameter '%s' must not be empty", name))
	}
	return nil
}

func pathID(r *http.Request, name string) (string, error) {
	var id string
	if err := pathParam(r, name, &id); err != nil {
		return "", err
	}
	return id, nil
}
