package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyApproverToken(t *testing.T) {
	tm := NewTokenManager([]byte("a-sufficiently-long-test-master-secret"), "agentbouncr.test")

	token, err := tm.IssueApproverToken("approver-1", "req-1", "tenant-a", time.Minute)
	require.NoError(t, err)

	claims, err := tm.VerifyApproverToken(token, "req-1", "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "approver-1", claims.ApproverID)
}

func TestVerify_RejectsWrongTenant(t *testing.T) {
	tm := NewTokenManager([]byte("a-sufficiently-long-test-master-secret"), "agentbouncr.test")
	token, err := tm.IssueApproverToken("approver-1", "req-1", "tenant-a", time.Minute)
	require.NoError(t, err)

	_, err = tm.VerifyApproverToken(token, "req-1", "tenant-b")
	require.Error(t, err)
}

func TestVerify_RejectsWrongRequest(t *testing.T) {
	tm := NewTokenManager([]byte("a-sufficiently-long-test-master-secret"), "agentbouncr.test")
	token, err := tm.IssueApproverToken("approver-1", "req-1", "tenant-a", time.Minute)
	require.NoError(t, err)

	_, err = tm.VerifyApproverToken(token, "req-2", "tenant-a")
	require.Error(t, err)
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager([]byte("a-sufficiently-long-test-master-secret"), "agentbouncr.test")
	token, err := tm.IssueApproverToken("approver-1", "req-1", "tenant-a", -time.Minute)
	require.NoError(t, err)

	_, err = tm.VerifyApproverToken(token, "req-1", "tenant-a")
	require.Error(t, err)
}
