package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"boxcount-server-go/internal/platform/errors"
)

// ErrorResponse is the uniform error body for every failing endpoint.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// statusForKind maps platform error kinds to HTTP status codes.
var statusForKind = map[errors.Kind]int{
	errors.KindInvalidFormat:   http.StatusBadRequest,
	errors.KindCorruptImage:    http.StatusBadRequest,
	errors.KindInvalidBase64:   http.StatusBadRequest,
	errors.KindPayloadTooLarge: http.StatusRequestEntityTooLarge,
	errors.KindUpstream:        http.StatusInternalServerError,
	errors.KindInternal:        http.StatusInternalServerError,
}

// StatusForError resolves the HTTP status for a typed error, defaulting to
// 500 for anything untyped or unmapped.
func StatusForError(err error) int {
	for kind, status := range statusForKind {
		if errors.IsKind(err, kind) {
			return status
		}
	}
	return http.StatusInternalServerError
}

// RespondError writes the {"detail": ...} body with the status derived from
// the error's kind.
func RespondError(c *gin.Context, err error) {
	RespondDetail(c, StatusForError(err), errors.Detail(err))
}

// RespondDetail writes the {"detail": ...} body with an explicit status, for
// handlers that override the default kind mapping.
func RespondDetail(c *gin.Context, status int, detail string) {
	c.JSON(status, ErrorResponse{Detail: detail})
}
