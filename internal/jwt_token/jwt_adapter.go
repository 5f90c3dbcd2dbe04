package jwttoken

import (
	id "credrep/pkg/domain"
	authmw "credrep/pkg/platform/middleware/auth"
)

func ToMiddlewareClaims(claims *Claims) (*authmw.JWTClaims, error) {
	caller, err := claims.Caller()
	if err != nil {
		return nil, err
	}
	version, err := id.ParseAPIVersion(claims.APIVersion)
	if err != nil {
		version = id.DefaultVersion()
	}
	return &authmw.JWTClaims{
		Caller:     caller,
		JTI:        claims.ID,
		APIVersion: version,
	}, nil
}

// JWTServiceAdapter exposes JWTService through the middleware's validator port.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims)
}
