package http

import (
	"time"

	"github.com/labstack/echo/v4"

	"QuantSim/pkg/util"
)

// QueryTime reads a time query parameter, falling back to def.
func QueryTime(c echo.Context, name string, def time.Time) time.Time {
	return util.ParseTimeDefault(c.QueryParam(name), def)
}

// QueryInt reads an integer query parameter, falling back to def.
func QueryInt(c echo.Context, name string, def int) int {
	return util.ParseIntDefault(c.QueryParam(name), def)
}
