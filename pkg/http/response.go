package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes data in the standard envelope.
func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func AcceptedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusAccepted, data)
}

func ValidationResponse(c echo.Context, errs []ValidationError) error {
	return DataResponse(c, http.StatusBadRequest, errs)
}

// ErrorResponse writes err as a list of AppErrors. Internal details are not
// echoed back for 5xx responses.
func ErrorResponse(c echo.Context, err error) error {
	appErr := FromError(err)
	if appErr.Status >= http.StatusInternalServerError && appErr.Code == "ERR_INTERNAL" {
		return DataResponse(c, appErr.Status, []*AppError{NewAppError(appErr.Code, "something went wrong", appErr.Status)})
	}
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}
