package handler

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/logger"
)

// StatusForKind maps an error kind to its HTTP status code.
func StatusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidParameter:
		return http.StatusBadRequest
	case errs.KindVideoNotFound, errs.KindJobNotFound, errs.KindNoVideosFound:
		return http.StatusNotFound
	case errs.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindEncodingFailed:
		return http.StatusBadGateway
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindInfrastructureUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error", "kind", "details"}. Internal errors
// hide their cause from the client.
func respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := StatusForKind(kind)

	body := gin.H{"kind": kind}
	if e, ok := errs.As(err); ok {
		body["error"] = e.Message
		if len(e.Details) > 0 {
			body["details"] = e.Details
		}
		if kind == errs.KindRateLimited && e.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
		}
	} else {
		body["error"] = "internal error"
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).
			WithField(logger.FieldErrorKind, kind).Error("Request failed")
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, errs.New(errs.KindInvalidParameter, msg))
}
