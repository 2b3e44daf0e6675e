package handler

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/stay-reservation/internal/metrics"
	"github.com/iliyamo/stay-reservation/internal/middleware"
	"github.com/iliyamo/stay-reservation/internal/model"
	"github.com/iliyamo/stay-reservation/internal/pricing"
	"github.com/iliyamo/stay-reservation/internal/service"
)

// RateWriter stores per-unit rate cards.  Both the MySQL repository and
// the in-memory store implement it.
type RateWriter interface {
	PolicyFor(ctx context.Context, unitID uint64) (pricing.Policy, error)
	Upsert(ctx context.Context, unitID uint64, p pricing.Policy) error
}

// QuotePurger drops cached responses for a request path.
type QuotePurger interface {
	Purge(ctx context.Context, path string) error
}

// QuotePath is the guest quote route of a unit.
func QuotePath(unitID uint64) string { return fmt.Sprintf("/v1/units/%d/quote", unitID) }

// AdminHandler bundles the operator endpoints.  Every route is mounted
// behind JWTAuth and RequireRole("OPERATOR").
type AdminHandler struct {
	Lifecycle *service.Lifecycle
	Payments  *service.Payments
	Sweeper   *service.Sweeper
	Recorder  *metrics.Recorder
	Rates     RateWriter
	// Quotes is optional; when set, a rate change purges the unit's
	// cached quotes.
	Quotes QuotePurger
	Now    Clock
}

func NewAdminHandler(l *service.Lifecycle, p *service.Payments, s *service.Sweeper, m *metrics.Recorder, rates RateWriter, now Clock) *AdminHandler {
	if l == nil || p == nil || s == nil || rates == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	if m == nil {
		m = metrics.NewRecorder(nil, "")
	}
	return &AdminHandler{Lifecycle: l, Payments: p, Sweeper: s, Recorder: m, Rates: rates, Now: clockOrDefault(now)}
}

// Cancel handles POST /v1/admin/reservations/:code/cancel with an
// optional {"reason": "..."} body.
func (h *AdminHandler) Cancel(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
	}
	res, err := h.Lifecycle.Cancel(c.Request().Context(), c.Param("code"), body.Reason, h.Now())
	if err != nil {
		return writeError(c, err)
	}
	log.Printf("admin: operator %v cancelled %s", c.Get(middleware.CtxOperatorID), res.Code)
	return c.JSON(http.StatusOK, res.Summary())
}

// UnitReservations handles GET /v1/admin/units/:id/reservations.
func (h *AdminHandler) UnitReservations(c echo.Context) error {
	unitID, ok := unitParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid unit id"})
	}
	list, err := h.Lifecycle.ListByUnit(c.Request().Context(), unitID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]model.ReservationSummary, 0, len(list))
	for _, r := range list {
		out = append(out, r.Summary())
	}
	return c.JSON(http.StatusOK, echo.Map{"unit_id": unitID, "reservations": out})
}

// Payment handles GET /v1/admin/payments/:reference and returns the
// folded state together with every recorded event in sequence order.
func (h *AdminHandler) Payment(c echo.Context) error {
	state, events, err := h.Payments.State(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"state": state, "events": events})
}

// Sweep handles POST /v1/admin/sweep: one expiry pass followed by one
// reminder pass, the same work the scheduler does on every tick.
func (h *AdminHandler) Sweep(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()
	res, err := h.Sweeper.Run(ctx, h.Now())
	if err != nil {
		log.Printf("admin: sweep finished with errors: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep incomplete", "result": res})
	}
	return c.JSON(http.StatusOK, res)
}

// Metrics handles GET /v1/admin/metrics.
func (h *AdminHandler) Metrics(c echo.Context) error {
	snap, err := h.Recorder.Snapshot(c.Request().Context(), h.Now())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type rateReq struct {
	BaseRate          decimal.Decimal  `json:"base_rate"`
	WeekendMultiplier *decimal.Decimal `json:"weekend_multiplier"`
	DepositFraction   *decimal.Decimal `json:"deposit_fraction"`
	WeekendNights     *string          `json:"weekend_nights"`
	MaxGuests         int              `json:"max_guests"`
	Currency          string           `json:"currency"`
}

// GetRates handles GET /v1/admin/units/:id/rates.
func (h *AdminHandler) GetRates(c echo.Context) error {
	unitID, ok := unitParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid unit id"})
	}
	p, err := h.Rates.PolicyFor(c.Request().Context(), unitID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rateView(unitID, p))
}

// PutRates handles PUT /v1/admin/units/:id/rates.  Fields left out of the
// body keep the value of the unit's current rate card.
func (h *AdminHandler) PutRates(c echo.Context) error {
	unitID, ok := unitParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid unit id"})
	}
	var req rateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()
	p, err := h.Rates.PolicyFor(ctx, unitID)
	if err != nil {
		return writeError(c, err)
	}
	if !req.BaseRate.IsPositive() {
		return writeError(c, model.Invalid("base_rate", "must be positive"))
	}
	p.BaseRate = req.BaseRate
	if req.WeekendMultiplier != nil {
		if !req.WeekendMultiplier.IsPositive() {
			return writeError(c, model.Invalid("weekend_multiplier", "must be positive"))
		}
		p.WeekendMultiplier = *req.WeekendMultiplier
	}
	if req.DepositFraction != nil {
		if req.DepositFraction.IsNegative() || req.DepositFraction.GreaterThan(decimal.NewFromInt(1)) {
			return writeError(c, model.Invalid("deposit_fraction", "must be between 0 and 1"))
		}
		p.DepositFraction = *req.DepositFraction
	}
	if req.WeekendNights != nil {
		days, err := pricing.ParseWeekdays(*req.WeekendNights)
		if err != nil {
			return writeError(c, model.Invalid("weekend_nights", err.Error()))
		}
		p.WeekendNights = days
	}
	if req.MaxGuests < 0 {
		return writeError(c, model.Invalid("max_guests", "must not be negative"))
	}
	p.MaxGuests = req.MaxGuests
	if cur := strings.ToUpper(strings.TrimSpace(req.Currency)); cur != "" {
		if len(cur) != 3 {
			return writeError(c, model.Invalid("currency", "must be an ISO 4217 code"))
		}
		p.Currency = cur
	}
	if err := h.Rates.Upsert(ctx, unitID, p); err != nil {
		return writeError(c, err)
	}
	if h.Quotes != nil {
		if err := h.Quotes.Purge(ctx, QuotePath(unitID)); err != nil {
			// entries still expire with CACHE_TTL
			log.Printf("admin: purge cached quotes for unit %d failed: %v", unitID, err)
		}
	}
	return c.JSON(http.StatusOK, rateView(unitID, p))
}

func rateView(unitID uint64, p pricing.Policy) echo.Map {
	nights := p.WeekendNights
	if nights == nil {
		nights = pricing.DefaultWeekendNights
	}
	return echo.Map{
		"unit_id":            unitID,
		"base_rate":          p.BaseRate.StringFixed(2),
		"weekend_multiplier": p.WeekendMultiplier.String(),
		"deposit_fraction":   p.DepositFraction.String(),
		"weekend_nights":     pricing.FormatWeekdays(nights),
		"max_guests":         p.MaxGuests,
		"currency":           p.Currency,
	}
}
