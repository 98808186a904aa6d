package testutil

import (
	"net/http"

	id "assent/pkg/domain"
	"assent/pkg/requestcontext"
)

// WithReviewer adds a reviewer identity and role set to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// An invalid reviewer ID is silently ignored.
func WithReviewer(req *http.Request, reviewerID string, roles ...string) *http.Request {
	parsed, err := id.ParseReviewerID(reviewerID)
	if err != nil {
		return req
	}
	ctx := requestcontext.WithReviewer(req.Context(), parsed, roles)
	return req.WithContext(ctx)
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	ctx := requestcontext.WithRequestID(req.Context(), requestID)
	return req.WithContext(ctx)
}
