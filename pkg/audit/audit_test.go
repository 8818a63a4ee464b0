package audit

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAppend_ChainsFromGenesis(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	rec, err := Append(ctx, store, Record{
		ID: "r1", TenantID: "t1", AgentID: "agent-1", Tool: "file_read",
		Timestamp: time.Now(), Result: "allowed",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.Hash)

	tail, ok, err := store.Tail(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Hash, tail.Hash)
}

func TestAppend_SecondRecordChainsToFirst(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	first, err := Append(ctx, store, Record{ID: "r1", TenantID: "t1", Tool: "a", Timestamp: time.Now()})
	require.NoError(t, err)

	second, err := Append(ctx, store, Record{ID: "r2", TenantID: "t1", Tool: "b", Timestamp: time.Now()})
	require.NoError(t, err)

	require.Equal(t, first.Hash, second.PreviousHash)
	require.NotEqual(t, first.Hash, second.Hash)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := NewSQLiteStore(ctx, db)
	require.NoError(t, err)

	_, err = Append(ctx, store, Record{ID: "r1", TenantID: "t1", Tool: "a", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = Append(ctx, store, Record{ID: "r2", TenantID: "t1", Tool: "b", Timestamp: time.Now()})
	require.NoError(t, err)

	_, ok, err := store.VerifyChain(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.ExecContext(ctx, `UPDATE audit_records SET tool = 'tampered' WHERE id = 'r1'`)
	require.NoError(t, err)

	brokenAt, ok, err := store.VerifyChain(ctx, "t1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, brokenAt)
}

func TestVerifyChain_EmptyChainVerifies(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	_, ok, err := store.VerifyChain(ctx, "nonexistent")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTenantsAreIndependentChains(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	recA, err := Append(ctx, store, Record{ID: "a1", TenantID: "tenant-a", Tool: "x", Timestamp: time.Now()})
	require.NoError(t, err)
	recB, err := Append(ctx, store, Record{ID: "b1", TenantID: "tenant-b", Tool: "x", Timestamp: time.Now()})
	require.NoError(t, err)

	require.Equal(t, recA.PreviousHash, recB.PreviousHash) // both start from genesis
	require.NotEqual(t, recA.Hash, recB.Hash)               // but differ in hash: their timestamps, part of the hash input, differ
}

func TestQuery_FiltersByToolAndResult(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	_, err = Append(ctx, store, Record{ID: "r1", TenantID: "t1", AgentID: "a1", Tool: "file_read", Result: "allowed", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = Append(ctx, store, Record{ID: "r2", TenantID: "t1", AgentID: "a1", Tool: "file_write", Result: "denied", Timestamp: time.Now()})
	require.NoError(t, err)

	page, err := store.Query(ctx, "t1", QueryFilter{Tool: "file_write"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Len(t, page.Records, 1)
	require.Equal(t, "r2", page.Records[0].ID)

	page, err = store.Query(ctx, "t1", QueryFilter{Result: "allowed"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "r1", page.Records[0].ID)
}

func TestQuery_FreeTextSearchMatchesReasonLiterally(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	_, err = Append(ctx, store, Record{ID: "r1", TenantID: "t1", Tool: "a", Reason: "path contains 100% of /etc", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = Append(ctx, store, Record{ID: "r2", TenantID: "t1", Tool: "b", Reason: "unrelated denial", Timestamp: time.Now()})
	require.NoError(t, err)

	// A literal "%" in the search term must not act as a SQL wildcard: only
	// the record whose reason contains the exact substring "100%" matches.
	page, err := store.Query(ctx, "t1", QueryFilter{Search: "100%"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "r1", page.Records[0].ID)

	page, err = store.Query(ctx, "t1", QueryFilter{Search: "unrelated"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "r2", page.Records[0].ID)
}

func TestQuery_PaginatesWithLimitAndOffset(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err = Append(ctx, store, Record{ID: fmt.Sprintf("r%d", i), TenantID: "t1", Tool: "x", Timestamp: time.Now()})
		require.NoError(t, err)
	}

	page, err := store.Query(ctx, "t1", QueryFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Len(t, page.Records, 2)
	require.Equal(t, "r2", page.Records[0].ID)
	require.Equal(t, "r3", page.Records[1].ID)
}

func TestEscapeLike_NeutralizesWildcards(t *testing.T) {
	require.Equal(t, `100\%`, EscapeLike("100%"))
	require.Equal(t, `a\_b`, EscapeLike("a_b"))
	require.Equal(t, `a\\b`, EscapeLike(`a\b`))
}

func TestGeneratePack_ProducesVerifiableZip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	_, err = Append(ctx, store, Record{ID: "r1", TenantID: "t1", Tool: "a", Timestamp: time.Now()})
	require.NoError(t, err)

	exporter := NewExporter(store)
	pack, err := exporter.GeneratePack(ctx, ExportRequest{TenantID: "t1"})
	require.NoError(t, err)
	require.True(t, pack.ChainValid)
	require.NotEmpty(t, pack.Bytes)
	require.NotEmpty(t, pack.Checksum)
}

func TestGeneratePack_RejectsEmptyTenantID(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t))
	require.NoError(t, err)

	exporter := NewExporter(store)
	_, err = exporter.GeneratePack(ctx, ExportRequest{})
	require.ErrorIs(t, err, ErrEmptyTenantID)
}
