package domain

import "fmt"

// APIVersion names a routed API surface. Tokens carry the version they were
// minted for so a token minted for a newer surface cannot be replayed on an
// older one.
type APIVersion string

const APIVersionV1 APIVersion = "v1"

// rank orders known versions; absent versions rank below every known one.
var rank = map[APIVersion]int{
	APIVersionV1: 1,
}

// ParseAPIVersion rejects versions this build does not serve.
func ParseAPIVersion(s string) (APIVersion, error) {
	v := APIVersion(s)
	if _, ok := rank[v]; !ok {
		return "", fmt.Errorf("unknown API version: %s", s)
	}
	return v, nil
}

func (v APIVersion) String() string { return string(v) }

func (v APIVersion) IsNil() bool { return v == "" }

// Accepts reports whether a route serving v may be called with a token
// minted for tok.
func (v APIVersion) Accepts(tok APIVersion) bool {
	routeRank, ok := rank[v]
	if !ok {
		return false
	}
	tokRank, ok := rank[tok]
	if !ok {
		return true
	}
	return routeRank >= tokRank
}

// DefaultVersion is stamped on newly minted caller tokens.
func DefaultVersion() APIVersion {
	return APIVersionV1
}
