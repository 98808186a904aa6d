package identity

import (
	"assent/internal/platform/middleware"
	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
	pstrings "assent/pkg/platform/strings"
)

// MiddlewareAdapter bridges the identity service to the middleware's
// JWTValidator interface, converting claims into typed IDs at the trust
// boundary.
type MiddlewareAdapter struct {
	service *Service
}

func NewMiddlewareAdapter(service *Service) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service}
}

func (a *MiddlewareAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	reviewerID, err := id.ParseReviewerID(claims.ReviewerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token reviewer_id is not a valid UUID")
	}
	// Roles are case-insensitive identifiers; canonicalize once at the
	// trust boundary so quorum matching stays a plain string compare.
	roles := pstrings.DedupeAndTrimLower(claims.Roles)
	if len(roles) == 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no roles")
	}
	return &middleware.JWTClaims{ReviewerID: reviewerID, Roles: roles}, nil
}
