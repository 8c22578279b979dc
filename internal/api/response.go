package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/mac"
)

// Response is the envelope every /api/v1 endpoint returns.
type Response struct {
	Code int    `json:"code"`
	Data any    `json:"data"`
	Msg  string `json:"message"`
}

// Business codes.
const (
	CodeSuccess     = 0
	CodeInternal    = -1
	CodeInvalid     = 40001
	CodeConflict    = 40900
	CodeOutOfRange  = 41600
	CodeNotReady    = 50300
	CodeUnavailable = 50301
)

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Data: data, Msg: "ok"})
}

func fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus(code), Response{Code: code, Msg: msg})
}

// failErr maps scheduler sentinels onto business codes.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mac.ErrOutOfRange):
		fail(c, CodeOutOfRange, err.Error())
	case errors.Is(err, mac.ErrScheduleNotReady):
		fail(c, CodeNotReady, err.Error())
	case errors.Is(err, mac.ErrConfig), errors.Is(err, mac.ErrInvalidCSI), errors.Is(err, csi.ErrConfig):
		fail(c, CodeInvalid, err.Error())
	case errors.Is(err, csi.ErrUnavailable):
		fail(c, CodeConflict, err.Error())
	default:
		fail(c, CodeInternal, err.Error())
	}
}

func httpStatus(code int) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeOutOfRange:
		return http.StatusRequestedRangeNotSatisfiable
	case CodeNotReady, CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
