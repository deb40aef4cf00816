package handlers

import "time"

// CreateLinkRequest is the request body for creating a short link.
type CreateLinkRequest struct {
	Body struct {
		Destination string            `doc:"The URL to shorten"                     example:"https://example.com/very/long/path" json:"destination"`
		CustomCode  string            `doc:"Optional caller-chosen short code"      example:"promo16"                            json:"customCode,omitempty" required:"false"`
		ExpiresAt   *time.Time        `doc:"Optional expiry; omit for a permanent link" json:"expiresAt,omitempty" required:"false"`
		Metadata    map[string]string `doc:"Optional opaque key/value annotations"  json:"metadata,omitempty" required:"false"`
	}
}

// CreateLinkResponse is the response for a successfully created short link.
type CreateLinkResponse struct {
	Headers struct {
		Location string `doc:"The short URL location" header:"Location"`
	}
	Body struct {
		Code        string     `doc:"The short code"     example:"b7Qx3Zp"                       json:"code"`
		ShortURL    string     `doc:"The full short URL" example:"http://localhost:8888/b7Qx3Zp" json:"shortUrl"`
		Destination string     `doc:"The destination URL" json:"destination"`
		ExpiresAt   *time.Time `doc:"Expiry, when set"    json:"expiresAt,omitempty"`
	}
}

// RedirectRequest is the request for resolving a short link.
type RedirectRequest struct {
	Code string `doc:"The short code" example:"b7Qx3Zp" path:"code"`
}

// RedirectResponse redirects the client to the destination URL.
type RedirectResponse struct {
	Status  int
	Headers struct {
		Location string `doc:"The destination URL" header:"Location"`
	}
}
