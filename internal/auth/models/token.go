package models

import (
	"time"

	id "credrep/pkg/domain"
)

// IssuedToken is a freshly minted caller token.
type IssuedToken struct {
	Token     string
	TokenID   string
	Caller    id.Address
	ExpiresAt time.Time
}
