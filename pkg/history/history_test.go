package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "history.db")
	l, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestLedger_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	l, _ := openLedger(t)

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, Entry{Kind: KindCore, Target: "v1.8.4", Outcome: OutcomeSuccess, Digest: "abc", CreatedAt: base}))
	require.NoError(t, l.Record(ctx, Entry{Kind: KindGeo, Target: "geoip.dat", Outcome: OutcomeFailure, Detail: "Failed to download geoip.dat: 404", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, l.Record(ctx, Entry{Kind: KindCore, Target: "v1.8.5", Outcome: OutcomeSuccess}))

	entries, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "v1.8.5", entries[0].Target)
	assert.False(t, entries[0].CreatedAt.IsZero())
	assert.Equal(t, KindGeo, entries[1].Kind)
	assert.Equal(t, OutcomeFailure, entries[1].Outcome)
	assert.True(t, base.Add(time.Minute).Equal(entries[1].CreatedAt))

	all, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "abc", all[2].Digest)
}

func TestLedger_Validation(t *testing.T) {
	l, _ := openLedger(t)
	assert.Error(t, l.Record(context.Background(), Entry{Target: "x"}))

	var nilLedger *Ledger
	assert.Error(t, nilLedger.Record(context.Background(), Entry{Kind: KindCore, Outcome: OutcomeSuccess}))
	_, err := nilLedger.Recent(context.Background(), 1)
	assert.Error(t, err)
	assert.NoError(t, nilLedger.Close())
}

func TestLedger_ReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	l, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, Entry{Kind: KindCore, Target: "v1.0.0", Outcome: OutcomeSuccess}))
	require.NoError(t, l.Close())

	l, err = Open(ctx, path)
	require.NoError(t, err)
	defer l.Close()
	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v1.0.0", entries[0].Target)
}
