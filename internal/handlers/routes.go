package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterRoutes registers all short link routes.
func RegisterRoutes(api huma.API, linkHandler *LinkHandler) {
	huma.Register(api, huma.Operation{
		Method:      http.MethodPost,
		Path:        "/shorten",
		Summary:     "Create short link",
		Description: "Creates a short link for a destination URL, with a generated or caller-chosen code.",
		Tags:        []string{"Links"},
	}, linkHandler.CreateLink)

	huma.Register(api, huma.Operation{
		Method:      http.MethodGet,
		Path:        "/{code}",
		Summary:     "Redirect to destination",
		Description: "Resolves a short code and redirects to its destination URL.",
		Tags:        []string{"Links"},
	}, linkHandler.RedirectToLink)
}
