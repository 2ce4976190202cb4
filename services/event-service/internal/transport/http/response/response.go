package response

import (
	"errors"
	"net/http"

	"github.com/baechuer/event-booking/pkg/httpserver"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

func OK(w http.ResponseWriter, r *http.Request, v any) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, v)
}

// Err writes an AppError with its status; anything else is a 500 whose
// details stay in the log.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	var ae *domain.AppError
	if errors.As(err, &ae) {
		httpserver.WriteError(w, r, statusFromCode(ae.Code), string(ae.Code), ae.Message)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
	httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
}

func statusFromCode(code domain.ErrCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidState, domain.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
