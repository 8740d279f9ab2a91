package identity

import (
	"context"
	"testing"
	"time"

	"support-desk-backend/internal/errs"
	"support-desk-backend/internal/model"
)

type memoryRepository struct {
	operators map[string]model.OperatorItem
	err       error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{operators: make(map[string]model.OperatorItem)}
}

func (m *memoryRepository) GetOperator(_ context.Context, operatorID string) (model.OperatorItem, error) {
	if m.err != nil {
		return model.OperatorItem{}, m.err
	}
	op, ok := m.operators[operatorID]
	if !ok {
		return model.OperatorItem{}, ErrNotFound
	}
	return op, nil
}

var testSecret = []byte("test-secret")

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestFromTokenResolvesOperator(t *testing.T) {
	repo := newMemoryRepository()
	repo.operators["op-1"] = model.OperatorItem{
		OperatorID: "op-1",
		Role:       model.RoleAdmin,
		Active:     true,
	}
	provider := NewProviderWithClock(testSecret, repo, fixedNow)

	token, err := CreateToken("op-1", testSecret, fixedNow().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	id, err := provider.FromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if id.OperatorID != "op-1" {
		t.Errorf("operator id = %q, want op-1", id.OperatorID)
	}
	if !id.Privileged() {
		t.Error("active admin should be privileged")
	}
}

func TestFromTokenExpired(t *testing.T) {
	repo := newMemoryRepository()
	repo.operators["op-1"] = model.OperatorItem{OperatorID: "op-1", Role: model.RoleAdmin, Active: true}
	provider := NewProviderWithClock(testSecret, repo, fixedNow)

	token, err := CreateToken("op-1", testSecret, fixedNow().Add(-time.Minute).Unix())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = provider.FromToken(context.Background(), token)
	if !errs.Is(err, errs.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for expired token, got %v", err)
	}
}

func TestFromTokenWrongSecret(t *testing.T) {
	repo := newMemoryRepository()
	provider := NewProviderWithClock(testSecret, repo, fixedNow)

	token, err := CreateToken("op-1", []byte("other-secret"), fixedNow().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = provider.FromToken(context.Background(), token)
	if !errs.Is(err, errs.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for forged token, got %v", err)
	}
}

func TestFromTokenUnknownOperator(t *testing.T) {
	provider := NewProviderWithClock(testSecret, newMemoryRepository(), fixedNow)

	token, err := CreateToken("ghost", testSecret, fixedNow().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = provider.FromToken(context.Background(), token)
	if !errs.Is(err, errs.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for unknown operator, got %v", err)
	}
}

func TestFromAuthorizationHeader(t *testing.T) {
	repo := newMemoryRepository()
	repo.operators["op-1"] = model.OperatorItem{OperatorID: "op-1", Role: model.RoleSuperadmin, Active: true}
	provider := NewProviderWithClock(testSecret, repo, fixedNow)

	token, err := CreateToken("op-1", testSecret, fixedNow().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	cases := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{"valid bearer", "Bearer " + token, false},
		{"missing header", "", true},
		{"no scheme", token, true},
		{"wrong scheme", "Basic " + token, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := provider.FromAuthorizationHeader(context.Background(), tc.header)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestInactiveOperatorNotPrivileged(t *testing.T) {
	id := Identity{OperatorID: "op-1", Role: model.RoleSuperadmin, Active: false}
	if id.Privileged() {
		t.Error("inactive operator must not be privileged")
	}
}
