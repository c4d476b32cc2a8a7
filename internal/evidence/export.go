package evidence

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

// BuildExportZip packs one run directory into an uncompressed zip whose
// entries are rooted at the run_id.
func BuildExportZip(eng Engine, runID string) ([]byte, error) {
	if !validRunID(runID) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	dir := eng.RunDir(runID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := w.CreateHeader(&zip.FileHeader{
			Name:   runID + "/" + filepath.ToSlash(rel),
			Method: zip.Store,
		})
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = entry.Write(data)
		return err
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("export %s: %w", runID, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("export %s: %w", runID, err)
	}
	return buf.Bytes(), nil
}

type manifestRun struct {
	RunID         string   `json:"run_id"`
	Module        string   `json:"module"`
	Action        string   `json:"action"`
	StateHash     string   `json:"state_hash"`
	ReceiptHashes []string `json:"receipt_hashes"`
	ReplayOK      bool     `json:"replay_ok"`
}

type proofManifest struct {
	Kind      string        `json:"kind"`
	Version   int           `json:"version"`
	AccountID string        `json:"account_id"`
	Prefix    string        `json:"prefix"`
	Runs      []manifestRun `json:"runs"`
}

// BuildProofZip bundles every receipt's export zip plus a manifest into
// one proof package for the account.
func BuildProofZip(eng Engine, accountID, prefix string, receipts []store.Receipt) ([]byte, error) {
	if len(receipts) == 0 {
		return nil, fmt.Errorf("no runs found for prefix")
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	runs := make([]manifestRun, 0, len(receipts))
	for _, rec := range receipts {
		runs = append(runs, manifestRun{
			RunID:         rec.RunID,
			Module:        rec.Module,
			Action:        rec.Action,
			StateHash:     rec.StateHash,
			ReceiptHashes: rec.ReceiptHashes,
			ReplayOK:      rec.ReplayOK,
		})
		export, err := BuildExportZip(eng, rec.RunID)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("export failed for %s: %w", rec.RunID, err)
		}
		entry, err := w.CreateHeader(&zip.FileHeader{Name: "runs/" + rec.RunID + ".zip", Method: zip.Store})
		if err != nil {
			w.Close()
			return nil, err
		}
		if _, err := entry.Write(export); err != nil {
			w.Close()
			return nil, err
		}
	}

	manifest, err := ident.CanonicalJSON(proofManifest{
		Kind:      "nyx-proof-package",
		Version:   1,
		AccountID: accountID,
		Prefix:    prefix,
		Runs:      runs,
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	entry, err := w.CreateHeader(&zip.FileHeader{Name: "manifest.json", Method: zip.Store})
	if err != nil {
		w.Close()
		return nil, err
	}
	if _, err := entry.Write([]byte(manifest)); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
