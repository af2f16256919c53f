package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps a service-layer failure onto an HTTP status by its
// classification.
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	default:
		switch pkgerrors.KindOf(err) {
		case pkgerrors.KindInput, pkgerrors.KindDanglingReference:
			RespondError(c, http.StatusBadRequest, string(pkgerrors.KindOf(err)), err)
		case pkgerrors.KindConcurrentRun:
			RespondError(c, http.StatusConflict, string(pkgerrors.KindConcurrentRun), err)
		case pkgerrors.KindScorerFailure, pkgerrors.KindTransportTimeout:
			RespondError(c, http.StatusBadGateway, string(pkgerrors.KindOf(err)), err)
		default:
			RespondError(c, http.StatusInternalServerError, "internal_error", err)
		}
	}
}
