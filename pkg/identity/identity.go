// Package identity issues and verifies the short-lived approver tokens of
// a tenant-scoped HS256 JWT proving the bearer is entitled to
// resolve a specific approval request.
package identity

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// ApproverClaims identifies who may resolve which approval request.
type ApproverClaims struct {
	jwt.RegisteredClaims
	ApproverID string `json:"approver_id"`
	RequestID  string `json:"request_id"`
	TenantID   string `json:"tenant_id"`
}

// TokenManager signs and verifies ApproverClaims. Each tenant gets its own
// HMAC key, derived from a master secret by HKDF-SHA256 so no tenant secret
// is stored directly and a compromised tenant key never reveals the master.
type TokenManager struct {
	masterSecret []byte
	issuer       string
}

// NewTokenManager constructs a manager from a master secret (at least 32
// bytes recommended). The issuer string is stamped into every token.
func NewTokenManager(masterSecret []byte, issuer string) *TokenManager {
	return &TokenManager{masterSecret: masterSecret, issuer: issuer}
}

func (tm *TokenManager) tenantKey(tenantID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, tm.masterSecret, []byte("agentbouncr-approver-kdf"), []byte(tenantID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("identity: derive tenant key: %w", err)
	}
	return key, nil
}

// IssueApproverToken creates a signed token valid for ttl, scoped to one
// approval request so it cannot be replayed against another.
func (tm *TokenManager) IssueApproverToken(approverID, requestID, tenantID string, ttl time.Duration) (string, error) {
	key, err := tm.tenantKey(tenantID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := ApproverClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approverID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ApproverID: approverID,
		RequestID:  requestID,
		TenantID:   tenantID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// VerifyApproverToken parses tokenString and confirms it was issued for
// requestID within tenantID, returning its claims (ApproverID names the
// approver). The signing key is derived from the tenantID argument, so a
// token signed for another tenant fails signature verification before any
// claim is compared.
func (tm *TokenManager) VerifyApproverToken(tokenString, requestID, tenantID string) (*ApproverClaims, error) {
	claims := &ApproverClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return tm.tenantKey(tenantID)
	})
	if err != nil {
		return nil, fmt.Errorf("identity: parse approver token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("identity: approver token invalid")
	}
	if claims.TenantID != tenantID || claims.RequestID != requestID {
		return nil, fmt.Errorf("identity: approver token scoped to a different tenant or request")
	}
	return claims, nil
}
