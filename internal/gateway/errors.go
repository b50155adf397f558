package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gatehouseio/gatehouse/internal/observability"
)

// Reason classifies why the gateway rejected a request without
// forwarding it, or why a forward failed.
type Reason string

const (
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonForbidden         Reason = "forbidden"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonCircuitOpen       Reason = "circuit_open"
	ReasonNoHealthyEndpoint Reason = "no_healthy_endpoint"
	ReasonDownstreamTimeout Reason = "downstream_timeout"
	ReasonDownstreamError   Reason = "downstream_error"
	ReasonRouteNotFound     Reason = "route_not_found"
	ReasonInternal          Reason = "internal"
)

// StatusCode maps a reason to its HTTP status.
func (r Reason) StatusCode() int {
	switch r {
	case ReasonUnauthenticated:
		return http.StatusUnauthorized
	case ReasonForbidden:
		return http.StatusForbidden
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonCircuitOpen, ReasonNoHealthyEndpoint:
		return http.StatusServiceUnavailable
	case ReasonDownstreamTimeout:
		return http.StatusGatewayTimeout
	case ReasonDownstreamError:
		return http.StatusBadGateway
	case ReasonRouteNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Rejection is a non-forwarded outcome.
type Rejection struct {
	// Reason is the rejection class.
	Reason Reason

	// Message is the human-readable explanation.
	Message string

	// RetryAfter, when positive, is sent as the Retry-After header in
	// whole seconds.
	RetryAfter int
}

// rejectionBody is the JSON envelope written for rejections.
type rejectionBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// WriteRejection renders the rejection envelope on the gin context.
func WriteRejection(c *gin.Context, rej Rejection) {
	if rej.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(rej.RetryAfter))
	}

	c.JSON(rej.Reason.StatusCode(), rejectionBody{
		Error:      string(rej.Reason),
		Message:    rej.Message,
		RetryAfter: rej.RetryAfter,
		RequestID:  observability.RequestIDFromContext(c.Request.Context()),
	})
}
