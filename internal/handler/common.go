package handler // handler defines the HTTP handlers of the reservation API

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/stay-reservation/internal/model"
	"github.com/iliyamo/stay-reservation/internal/pricing"
)

// Clock returns the current time.  Handlers take one so tests can pin it.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return utcNow
	}
	return c
}

// writeError maps service errors onto HTTP responses.  Outcome errors are
// expected and returned without logging; anything unknown is logged and
// hidden behind a 500.
func writeError(c echo.Context, err error) error {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, model.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, model.ErrUnavailable),
		errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrInvalidState):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, model.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": err.Error()})
	case errors.Is(err, model.ErrInvalidSignature):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	}
	log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// unitParam parses the :id path parameter.
func unitParam(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// stayQuery reads check_in and check_out query parameters (YYYY-MM-DD).
func stayQuery(c echo.Context) (time.Time, time.Time, error) {
	in, err := pricing.ParseDay(c.QueryParam("check_in"))
	if err != nil {
		return time.Time{}, time.Time{}, model.Invalid("check_in", "must be a date (YYYY-MM-DD)")
	}
	out, err := pricing.ParseDay(c.QueryParam("check_out"))
	if err != nil {
		return time.Time{}, time.Time{}, model.Invalid("check_out", "must be a date (YYYY-MM-DD)")
	}
	return in, out, nil
}
