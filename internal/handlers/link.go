package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/resolver"
	"github.com/serroba/shortlink/internal/shortlink"
	"go.uber.org/zap"
)

// Resolver is the subset of the resolution service the HTTP layer uses.
type Resolver interface {
	Create(ctx context.Context, req resolver.CreateRequest) (*shortlink.ShortLink, error)
	Resolve(ctx context.Context, code string, subject resolver.Subject) (string, error)
}

// LinkHandler handles short link operations.
type LinkHandler struct {
	service Resolver
	baseURL string
	logger  *zap.Logger
}

// NewLinkHandler creates a new link handler.
func NewLinkHandler(service Resolver, baseURL string, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		service: service,
		baseURL: baseURL,
		logger:  logger,
	}
}

func (h *LinkHandler) CreateLink(ctx context.Context, req *CreateLinkRequest) (*CreateLinkResponse, error) {
	meta := RequestMetaFromContext(ctx)

	createReq := resolver.CreateRequest{
		Destination: req.Body.Destination,
		CustomCode:  req.Body.CustomCode,
		ExpiresAt:   req.Body.ExpiresAt,
		Metadata:    req.Body.Metadata,
		Subject:     subjectFromMeta(meta),
	}

	if meta.AccountID != "" {
		createReq.OwnerID = &meta.AccountID
	}

	link, err := h.service.Create(ctx, createReq)
	if err != nil {
		return nil, h.mapError(err)
	}

	shortURL := fmt.Sprintf("%s/%s", h.baseURL, link.Code)

	resp := &CreateLinkResponse{}
	resp.Headers.Location = shortURL
	resp.Body.Code = link.Code
	resp.Body.ShortURL = shortURL
	resp.Body.Destination = link.Destination
	resp.Body.ExpiresAt = link.ExpiresAt

	return resp, nil
}

func (h *LinkHandler) RedirectToLink(ctx context.Context, req *RedirectRequest) (*RedirectResponse, error) {
	meta := RequestMetaFromContext(ctx)

	destination, err := h.service.Resolve(ctx, req.Code, subjectFromMeta(meta))
	if err != nil {
		return nil, h.mapError(err)
	}

	resp := &RedirectResponse{
		Status: http.StatusFound,
	}
	resp.Headers.Location = destination

	return resp, nil
}

func subjectFromMeta(meta RequestMeta) resolver.Subject {
	return resolver.Subject{
		IP:        meta.ClientIP,
		AccountID: meta.AccountID,
		UserAgent: meta.UserAgent,
		Referrer:  meta.Referrer,
	}
}

// mapError translates domain errors to HTTP status errors. Internal
// failure detail is logged, never exposed.
func (h *LinkHandler) mapError(err error) error {
	var denied *shortlink.AdmissionDeniedError
	if errors.As(err, &denied) {
		seconds := int(math.Ceil(denied.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}

		return huma.ErrorWithHeaders(
			huma.Error429TooManyRequests(denied.Error()),
			http.Header{"Retry-After": []string{strconv.Itoa(seconds)}},
		)
	}

	switch {
	case errors.Is(err, shortlink.ErrInvalidDestination),
		errors.Is(err, shortlink.ErrInvalidCode):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, shortlink.ErrCodeUnavailable):
		return huma.Error409Conflict("short code is not available")
	case errors.Is(err, shortlink.ErrNotFound):
		return huma.Error404NotFound("short link not found")
	case errors.Is(err, shortlink.ErrGone):
		return huma.Error410Gone("short link is no longer active")
	case errors.Is(err, shortlink.ErrGenerationExhausted),
		errors.Is(err, shortlink.ErrUnavailable):
		h.logger.Error("resolution backend unavailable", zap.Error(err))

		return huma.Error503ServiceUnavailable("service temporarily unavailable")
	default:
		h.logger.Error("unexpected resolution error", zap.Error(err))

		return huma.Error500InternalServerError("internal error")
	}
}
