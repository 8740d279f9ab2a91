// Package identity resolves operator credentials into {operatorId, role,
// active}. It is the only place the core touches authentication: everything
// downstream receives an explicit Identity value instead of reading ambient
// request state.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"support-desk-backend/internal/errs"
	"support-desk-backend/internal/model"

	"github.com/golang-jwt/jwt"
)

type Identity struct {
	OperatorID string
	Role       string
	Active     bool
}

// Privileged reports whether the operator may touch queue and escalation
// operations. Inactive operators are never privileged, whatever their role.
func (id Identity) Privileged() bool {
	return id.Active && model.PrivilegedRole(id.Role)
}

type Provider struct {
	secret []byte
	repo   Repository
	now    func() time.Time
}

func NewProvider(secret []byte, repo Repository) *Provider {
	return &Provider{
		secret: secret,
		repo:   repo,
		now:    time.Now,
	}
}

func NewProviderWithClock(secret []byte, repo Repository, now func() time.Time) *Provider {
	if now == nil {
		now = time.Now
	}
	return &Provider{secret: secret, repo: repo, now: now}
}

func (p *Provider) FromAuthorizationHeader(ctx context.Context, header string) (Identity, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Identity{}, errs.New(errs.CodeUnauthorized, "missing authorization header", nil)
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return Identity{}, errs.New(errs.CodeUnauthorized, "invalid authorization header format", nil)
	}
	return p.FromToken(ctx, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
}

func (p *Provider) FromToken(ctx context.Context, tokenString string) (Identity, error) {
	operatorID, err := p.parseToken(tokenString)
	if err != nil {
		return Identity{}, errs.New(errs.CodeUnauthorized, "invalid token", err)
	}

	operator, err := p.repo.GetOperator(ctx, operatorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, errs.New(errs.CodeUnauthorized, "operator not found", err)
		}
		return Identity{}, errs.New(errs.CodeStoreUnavailable, "failed to load operator", err)
	}

	return Identity{
		OperatorID: operator.OperatorID,
		Role:       operator.Role,
		Active:     operator.Active,
	}, nil
}

func (p *Provider) parseToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("empty token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("claims of unexpected type")
	}

	if exp, ok := claims["exp"].(float64); ok {
		if p.now().Unix() > int64(exp) {
			return "", fmt.Errorf("token expired")
		}
	}

	operatorID, _ := claims["id"].(string)
	if operatorID == "" {
		return "", fmt.Errorf("token missing operator id")
	}

	return operatorID, nil
}

// CreateToken issues an operator access token. Used by the provisioning
// tooling and tests; the servers only ever verify.
func CreateToken(operatorID string, secret []byte, validUntil int64) (string, error) {
	if validUntil == 0 {
		validUntil = time.Now().Add(15 * time.Minute).Unix()
	}

	claims := jwt.MapClaims{
		"id":  operatorID,
		"exp": validUntil,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
