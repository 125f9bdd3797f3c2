package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/papai0709/syncengine/pkg/synckit"
)

// writeError maps a domain error to an HTTP status and writes the JSON
// error body, per the teacher's mapServiceError convention
// (pkg/api/errors.go) translated from echo.HTTPError to gin's c.JSON.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	hint := ""

	var se *synckit.Error
	switch {
	case errors.As(err, &se):
		switch se.Kind {
		case synckit.KindTrackerGone:
			status = http.StatusNotFound
		case synckit.KindTrackerDown, synckit.KindGenerator:
			status = http.StatusBadGateway
		case synckit.KindValidation, synckit.KindConfig:
			status = http.StatusBadRequest
			if errors.Is(err, synckit.ErrCooldownNotElapsed) || errors.Is(err, synckit.ErrExtractionCapped) {
				status = http.StatusConflict
			}
		case synckit.KindParse:
			status = http.StatusUnprocessableEntity
		case synckit.KindPersistence:
			status = http.StatusInternalServerError
		}
		hint = se.Hint
	case errors.Is(err, synckit.ErrUnknownRoot):
		status = http.StatusNotFound
	case errors.Is(err, synckit.ErrCooldownNotElapsed), errors.Is(err, synckit.ErrExtractionCapped):
		status = http.StatusConflict
	case errors.Is(err, synckit.ErrAlreadyInFlight):
		status = http.StatusConflict
	}

	c.JSON(status, ErrorResponse{Error: err.Error(), Hint: hint})
}
