package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// callerID identifies the caller for rate limiting: the operator id set
// by JWTAuth, or "anon" for guests and payment providers.
func callerID(c echo.Context) string {
	if id, ok := c.Get(CtxOperatorID).(uint64); ok && id > 0 {
		return "op" + strconv.FormatUint(id, 10)
	}
	return "anon"
}
