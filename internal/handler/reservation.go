package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/stay-reservation/internal/model"
	"github.com/iliyamo/stay-reservation/internal/pricing"
	"github.com/iliyamo/stay-reservation/internal/service"
)

// ReservationHandler serves the guest-facing endpoints: quoting, checking
// availability, placing a hold and confirming it.  No authentication is
// required; the reservation code acts as the guest's bearer secret.
type ReservationHandler struct {
	Lifecycle *service.Lifecycle
	Now       Clock
}

func NewReservationHandler(l *service.Lifecycle, now Clock) *ReservationHandler {
	if l == nil {
		panic("nil lifecycle passed to NewReservationHandler")
	}
	return &ReservationHandler{Lifecycle: l, Now: clockOrDefault(now)}
}

type createReservationReq struct {
	UnitID       uint64  `json:"unit_id"`
	CheckIn      string  `json:"check_in"`
	CheckOut     string  `json:"check_out"`
	Guests       int     `json:"guests"`
	ContactName  string  `json:"contact_name"`
	ContactPhone string  `json:"contact_phone"`
	ContactEmail *string `json:"contact_email"`
	Channel      string  `json:"channel"`
}

// Create handles POST /v1/reservations.  It returns 201 with the new
// PRE_RESERVED hold, 409 when the unit is taken for the dates and 400 for
// invalid input.
func (h *ReservationHandler) Create(c echo.Context) error {
	var req createReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	in, err := pricing.ParseDay(strings.TrimSpace(req.CheckIn))
	if err != nil {
		return writeError(c, model.Invalid("check_in", "must be a date (YYYY-MM-DD)"))
	}
	out, err := pricing.ParseDay(strings.TrimSpace(req.CheckOut))
	if err != nil {
		return writeError(c, model.Invalid("check_out", "must be a date (YYYY-MM-DD)"))
	}
	res, err := h.Lifecycle.Create(c.Request().Context(), service.CreateInput{
		UnitID:   req.UnitID,
		CheckIn:  in,
		CheckOut: out,
		Guests:   req.Guests,
		Contact: model.Contact{
			Name:  req.ContactName,
			Phone: req.ContactPhone,
			Email: req.ContactEmail,
		},
		Channel: req.Channel,
	}, h.Now())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res.Summary())
}

// Get handles GET /v1/reservations/:code.
func (h *ReservationHandler) Get(c echo.Context) error {
	res, err := h.Lifecycle.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res.Summary())
}

// Confirm handles POST /v1/reservations/:code/confirm.  Only one of
// several concurrent confirmations wins; the rest get 409.  A hold past
// its deadline answers 410.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	res, err := h.Lifecycle.Confirm(c.Request().Context(), c.Param("code"), h.Now())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res.Summary())
}

// Quote handles GET /v1/units/:id/quote?check_in=&check_out=.
func (h *ReservationHandler) Quote(c echo.Context) error {
	unitID, ok := unitParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid unit id"})
	}
	in, out, err := stayQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	q, err := h.Lifecycle.Quote(c.Request().Context(), unitID, in, out)
	if err != nil {
		return writeError(c, err)
	}
	nights := make([]echo.Map, 0, len(q.Nights))
	for _, n := range q.Nights {
		nights = append(nights, echo.Map{
			"date":    n.Date.Format(model.DateLayout),
			"weekend": n.Weekend,
			"price":   n.Price.StringFixed(2),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"unit_id":        unitID,
		"check_in":       in.Format(model.DateLayout),
		"check_out":      out.Format(model.DateLayout),
		"nights":         nights,
		"total_price":    q.TotalPrice.StringFixed(2),
		"deposit_amount": q.DepositAmount.StringFixed(2),
		"currency":       q.Currency,
	})
}

// Availability handles GET /v1/units/:id/availability?check_in=&check_out=.
func (h *ReservationHandler) Availability(c echo.Context) error {
	unitID, ok := unitParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid unit id"})
	}
	in, out, err := stayQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	free, err := h.Lifecycle.Availability(c.Request().Context(), unitID, in, out, h.Now())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"unit_id":   unitID,
		"check_in":  in.Format(model.DateLayout),
		"check_out": out.Format(model.DateLayout),
		"available": free,
	})
}
