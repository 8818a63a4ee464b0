package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyTenantID is returned when tenant ID is empty.
	ErrEmptyTenantID = errors.New("audit: tenant_id must not be empty")
	// ErrStoreNotConfigured is returned when export is invoked without a backing store.
	ErrStoreNotConfigured = errors.New("audit: store not configured")
)

// ExportRequest defines what to export.
type ExportRequest struct {
	TenantID string
	Limit    int
}

// EvidencePack is the exported bundle: the zip bytes plus the checksum of
// those bytes, so the recipient can verify transport integrity separately
// from the chain integrity recorded inside manifest.json.
type EvidencePack struct {
	TenantID    string
	GeneratedAt time.Time
	Checksum    string
	Bytes       []byte
	ChainValid  bool
}

// Exporter builds evidence packs from a Store.
type Exporter struct {
	store Store
}

func NewExporter(s Store) *Exporter {
	return &Exporter{store: s}
}

// GeneratePack renders the tenant's chain as NDJSON (events.ndjson), a
// manifest naming the chain head and whether it verifies, and a zip
// wrapping both.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) (EvidencePack, error) {
	if req.TenantID == "" {
		return EvidencePack{}, ErrEmptyTenantID
	}
	if e.store == nil {
		return EvidencePack{}, ErrStoreNotConfigured
	}

	records, err := e.store.List(ctx, req.TenantID, req.Limit)
	if err != nil {
		return EvidencePack{}, fmt.Errorf("audit: list records: %w", err)
	}

	ndjson, err := encodeNDJSON(records)
	if err != nil {
		return EvidencePack{}, fmt.Errorf("audit: encode ndjson: %w", err)
	}

	_, chainValid, err := e.store.VerifyChain(ctx, req.TenantID)
	if err != nil {
		return EvidencePack{}, fmt.Errorf("audit: verify chain: %w", err)
	}

	var chainHead string
	if len(records) > 0 {
		chainHead = records[len(records)-1].Hash
	}

	generatedAt := time.Now().UTC()
	manifest := map[string]any{
		"tenant_id":    req.TenantID,
		"generated_at": generatedAt,
		"record_count": len(records),
		"chain_head":   chainHead,
		"chain_valid":  chainValid,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return EvidencePack{}, fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	if f, err := zw.Create("events.ndjson"); err != nil {
		return EvidencePack{}, err
	} else if _, err := f.Write(ndjson); err != nil {
		return EvidencePack{}, err
	}

	if f, err := zw.Create("manifest.json"); err != nil {
		return EvidencePack{}, err
	} else if _, err := f.Write(manifestJSON); err != nil {
		return EvidencePack{}, err
	}

	if f, err := zw.Create("README.txt"); err != nil {
		return EvidencePack{}, err
	} else if _, err := fmt.Fprintf(f, "Evidence pack for tenant %s\nGenerated at %s\n", req.TenantID, generatedAt.Format(time.RFC3339)); err != nil {
		return EvidencePack{}, err
	}

	if err := zw.Close(); err != nil {
		return EvidencePack{}, err
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)

	return EvidencePack{
		TenantID:    req.TenantID,
		GeneratedAt: generatedAt,
		Checksum:    hex.EncodeToString(sum[:]),
		Bytes:       zipBytes,
		ChainValid:  chainValid,
	}, nil
}

// encodeNDJSON writes one JSON object per line, the format audit exports
// commit to because it streams and greps without loading the whole file.
func encodeNDJSON(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
