package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/dto"
	"order-fulfillment-service/internal/logging"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:             http.StatusBadRequest,
	apperr.KindInsufficientStock:      http.StatusBadRequest,
	apperr.KindNotFound:               http.StatusNotFound,
	apperr.KindForbidden:              http.StatusForbidden,
	apperr.KindInvalidTransition:      http.StatusConflict,
	apperr.KindConcurrentModification: http.StatusConflict,
	apperr.KindConflict:               http.StatusConflict,
	apperr.KindGatewayUnavailable:     http.StatusBadGateway,
	apperr.KindGatewayRejected:        http.StatusBadGateway,
}

// writeError maps the error taxonomy onto HTTP. Unclassified errors are logged and
// answered with a bare 500.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	code, ok := statusByKind[kind]
	if !ok {
		logging.FromContext(c.Request.Context(), nil).Error("request_failed",
			zap.String("route", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: dto.ErrorBody{Kind: string(apperr.KindInternal), Message: "internal error"},
		})
		return
	}
	c.JSON(code, dto.ErrorResponse{Error: dto.ErrorBody{Kind: string(kind), Message: err.Error()}})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error: dto.ErrorBody{Kind: string(apperr.KindValidation), Message: err.Error()},
	})
}
