package evidence

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyxlabs/testnet-gateway/internal/metrics"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

func newEngine(t *testing.T) *LocalEngine {
	t.Helper()
	eng, err := NewLocalEngine(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, err)
	return eng
}

func TestRunIsDeterministic(t *testing.T) {
	eng := newEngine(t)
	payload := map[string]any{"amount": int64(10), "to": "bob"}

	first, err := eng.Run(42, "run-1", "wallet", "transfer", payload)
	require.NoError(t, err)
	second, err := eng.Run(42, "run-1", "wallet", "transfer", payload)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first.StateHash, 64)
	require.Len(t, first.ReceiptHashes, 1)
	require.True(t, first.ReplayOK)

	// A different seed changes every digest.
	third, err := eng.Run(43, "run-1", "wallet", "transfer", payload)
	require.NoError(t, err)
	require.NotEqual(t, first.StateHash, third.StateHash)
}

func TestStateHashIgnoresRunID(t *testing.T) {
	eng := newEngine(t)
	payload := map[string]any{"asset_in": "NYXT", "asset_out": "ECHO", "amount": int64(50)}

	a, err := eng.Run(123, "run-a", "exchange", "route_swap", payload)
	require.NoError(t, err)
	b, err := eng.Run(123, "run-b", "exchange", "route_swap", payload)
	require.NoError(t, err)

	// Same inputs prove the same state regardless of the run name.
	require.Equal(t, a.StateHash, b.StateHash)
	require.Equal(t, a.ReceiptHashes, b.ReceiptHashes)
	require.NotEqual(t, a.RunID, b.RunID)

	for _, runID := range []string{"run-a", "run-b"} {
		ok, err := eng.VerifyRun(runID)
		require.NoError(t, err)
		require.True(t, ok, runID)
	}
}

func TestRunIDConfinedToRunRoot(t *testing.T) {
	eng := newEngine(t)

	// A directory next to the run root must stay unreachable.
	outside := filepath.Join(eng.Root, "..", "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "evidence.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "leak.txt"), []byte("secret"), 0o644))

	for _, bad := range []string{"../outside", "a/b", "..", "run id", strings.Repeat("r", 65), ""} {
		_, err := eng.Run(1, bad, "wallet", "transfer", nil)
		require.Error(t, err, bad)

		rec, err := eng.Load(bad)
		require.NoError(t, err, bad)
		require.Nil(t, rec, bad)

		_, err = eng.SafeArtifact(bad, "leak.txt")
		require.Error(t, err, bad)

		_, err = BuildExportZip(eng, bad)
		require.Error(t, err, bad)
	}
}

func TestVerifyRunDetectsTampering(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.Run(1, "run-1", "wallet", "transfer", map[string]any{"amount": int64(5)})
	require.NoError(t, err)

	ok, err := eng.VerifyRun("run-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Flip the payload on disk; the recorded state hash no longer matches.
	path := filepath.Join(eng.RunDir("run-1"), "evidence.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte(`"amount":5`), []byte(`"amount":6`), 1)
	require.NotEqual(t, raw, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	ok, err = eng.VerifyRun("run-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadMissingRun(t *testing.T) {
	eng := newEngine(t)
	rec, err := eng.Load("run-none")
	require.NoError(t, err)
	require.Nil(t, rec)

	_, err = eng.VerifyRun("run-none")
	require.Error(t, err)
}

func TestSafeArtifactRejectsEscapes(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.Run(1, "run-1", "wallet", "transfer", nil)
	require.NoError(t, err)

	path, err := eng.SafeArtifact("run-1", "evidence.json")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(eng.RunDir("run-1"), "evidence.json"), path)

	for _, bad := range []string{"../run-2/evidence.json", "/etc/passwd", "a/../../x", ""} {
		_, err := eng.SafeArtifact("run-1", bad)
		require.Error(t, err, bad)
	}
}

func TestSafeArtifactRejectsSymlinkOut(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.Run(1, "run-1", "wallet", "transfer", nil)
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	link := filepath.Join(eng.RunDir("run-1"), "leak")
	require.NoError(t, os.Symlink(outside, link))

	_, err = eng.SafeArtifact("run-1", "leak")
	require.Error(t, err)
}

func TestRunAndRecordPersistsRows(t *testing.T) {
	eng := newEngine(t)
	s, err := store.Open(filepath.Join(t.TempDir(), "g.db"), metrics.New())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	out, err := RunAndRecord(ctx, eng, s.Conn(), 7, "run-1", "wallet", "transfer",
		map[string]any{"amount": int64(3)})
	require.NoError(t, err)

	rec, err := s.Conn().GetReceiptByRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, out.StateHash, rec.StateHash)
	require.Equal(t, out.ReceiptHashes, rec.ReceiptHashes)
	require.True(t, rec.ReplayOK)

	// Replaying the same run records idempotently.
	_, err = RunAndRecord(ctx, eng, s.Conn(), 7, "run-1", "wallet", "transfer",
		map[string]any{"amount": int64(3)})
	require.NoError(t, err)
}

func TestBuildExportAndProofZips(t *testing.T) {
	eng := newEngine(t)
	out, err := eng.Run(1, "run-1", "wallet", "transfer", map[string]any{"amount": int64(2)})
	require.NoError(t, err)

	export, err := BuildExportZip(eng, "run-1")
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(export), int64(len(export)))
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	require.True(t, names["run-1/evidence.json"])
	require.True(t, names["run-1/run-1.txt"])

	proof, err := BuildProofZip(eng, "acct-1", "run", []store.Receipt{{
		ReceiptID:     "receipt-x",
		Module:        "wallet",
		Action:        "transfer",
		StateHash:     out.StateHash,
		ReceiptHashes: out.ReceiptHashes,
		ReplayOK:      true,
		RunID:         "run-1",
	}})
	require.NoError(t, err)
	pr, err := zip.NewReader(bytes.NewReader(proof), int64(len(proof)))
	require.NoError(t, err)
	found := make(map[string]bool)
	for _, f := range pr.File {
		found[f.Name] = true
	}
	require.True(t, found["manifest.json"])
	require.True(t, found["runs/run-1.zip"])

	_, err = BuildProofZip(eng, "acct-1", "run", nil)
	require.Error(t, err)
}
