// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0

// Package authn validates the bearer tokens presented to the
// authenticated query endpoints. Tokens are HMAC-signed JWTs carrying a
// "database" claim that scopes the caller to one configured database.
package authn

import (
	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
)

// TokenInfo is what a successfully validated token asserts.
type TokenInfo struct {
	// Database is the database name the token is scoped to.
	Database string

	// Claims holds the full decoded claim set for logging.
	Claims jwt.MapClaims
}

// Validator checks HMAC-signed JWTs against a shared secret.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a Validator. issuer is optional; when set, tokens
// must carry a matching iss claim.
func NewValidator(secret, issuer string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("auth secret required")
	}
	return &Validator{secret: []byte(secret), issuer: issuer}, nil
}

// ValidateToken parses and verifies a bearer token. Expiry is enforced
// by the jwt library during Parse. When expectedDatabase is non-empty
// the token's database claim must match it; when empty the claim only
// needs to be present, and the caller uses it to pick the database.
func (v *Validator) ValidateToken(token, expectedDatabase string) (*TokenInfo, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parsing token")
	}
	if !parsed.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("token has no claims")
	}

	if v.issuer != "" {
		if iss, _ := claims["iss"].(string); iss != v.issuer {
			return nil, errors.Errorf("token issuer %q not accepted", iss)
		}
	}

	database, _ := claims["database"].(string)
	if database == "" {
		return nil, errors.New("token is missing the database claim")
	}
	if expectedDatabase != "" && database != expectedDatabase {
		return nil, errors.Errorf("token is not valid for database %s", expectedDatabase)
	}

	return &TokenInfo{Database: database, Claims: claims}, nil
}
