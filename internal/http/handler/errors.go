package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/http/dto"
	"healthbridge.app/syncer/internal/oauth"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/service"
)

// statusFor maps service and domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		cfg     *domain.ConfigurationError
		invalid *domain.InvalidStateError
		expired *domain.ExpiredStateError
		exch    *domain.TokenExchangeError
		reauth  *domain.ReauthorizationRequiredError
		rl      *domain.ProviderRateLimitError
	)
	switch {
	case errors.Is(err, service.ErrIntegrationNotFound),
		errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, service.ErrWebhooksUnsupported):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRange),
		errors.Is(err, provider.ErrMalformedWebhook),
		errors.Is(err, service.ErrInvalidPreferences),
		errors.Is(err, oauth.ErrInvalidRedirectTarget),
		errors.As(err, &invalid),
		errors.As(err, &expired):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, scheduler.ErrJobNotCancellable),
		errors.Is(err, service.ErrIntegrationNotConnected):
		return http.StatusConflict
	case errors.As(err, &reauth):
		return http.StatusFailedDependency
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.As(err, &exch):
		return http.StatusBadGateway
	case errors.As(err, &cfg):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	status := statusFor(err)

	resp := dto.ErrorResponse{Error: err.Error(), Kind: domain.Kind(err)}
	switch {
	case status == http.StatusInternalServerError:
		slog.ErrorContext(ctx, "request failed", "error", err)
		resp = dto.ErrorResponse{Error: "internal server error"}
	case status == http.StatusServiceUnavailable:
		slog.ErrorContext(ctx, "provider not configured", "error", err)
	case status == http.StatusTooManyRequests:
		if d := domain.RetryAfter(err); d > 0 {
			secs := int(d.Seconds())
			resp.RetryAfterSeconds = secs
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}
	if resp.Kind == "internal_error" {
		resp.Kind = ""
	}

	c.JSON(status, resp)
}
