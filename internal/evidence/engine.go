// Package evidence produces and verifies the deterministic proof trail
// behind every state mutation. Each run leaves a directory under the run
// root containing the replayable inputs; hashes over the canonical
// encoding make two runs with the same inputs byte-comparable.
package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nyxlabs/testnet-gateway/internal/ident"
)

// Run ids double as directory names under the run root, so the engine
// refuses anything outside this alphabet before touching the
// filesystem.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validRunID(runID string) bool { return runIDPattern.MatchString(runID) }

// Outcome is what a completed run proves.
type Outcome struct {
	RunID         string   `json:"run_id"`
	Module        string   `json:"module"`
	Action        string   `json:"action"`
	Seed          int64    `json:"seed"`
	StateHash     string   `json:"state_hash"`
	ReceiptHashes []string `json:"receipt_hashes"`
	ReplayOK      bool     `json:"replay_ok"`
}

// Engine runs, verifies and exposes evidence runs. The local engine is
// the only implementation today; the interface keeps the executor
// decoupled from where proofs are produced.
type Engine interface {
	Run(seed int64, runID, module, action string, payload map[string]any) (Outcome, error)
	VerifyRun(runID string) (bool, error)
	Load(runID string) (*Outcome, error)
	SafeArtifact(runID, name string) (string, error)
	RunDir(runID string) string
}

// LocalEngine materialises runs as directories under Root.
type LocalEngine struct {
	Root string
}

// NewLocalEngine creates the run root if needed.
func NewLocalEngine(root string) (*LocalEngine, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create run root: %w", err)
	}
	return &LocalEngine{Root: root}, nil
}

// RunDir returns the directory a run's artifacts live in.
func (e *LocalEngine) RunDir(runID string) string {
	return filepath.Join(e.Root, runID)
}

type runEnvelope struct {
	Seed    int64          `json:"seed"`
	RunID   string         `json:"run_id"`
	Module  string         `json:"module"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

type hashEnvelope struct {
	Seed    int64          `json:"seed"`
	Module  string         `json:"module"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// stateHash binds the replayable inputs only. The run id stays out of
// the envelope: two runs with identical seed, action and payload prove
// the same state no matter what the caller named them. Run-scoped
// identifiers derive from the run id separately.
func stateHash(seed int64, module, action string, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	return ident.HashCanonical(hashEnvelope{
		Seed: seed, Module: module, Action: action, Payload: payload,
	})
}

// Run computes the state hash over the canonical inputs, writes the run
// directory and returns the outcome. Re-running the same inputs
// reproduces the same hashes and overwrites the directory in place.
func (e *LocalEngine) Run(seed int64, runID, module, action string, payload map[string]any) (Outcome, error) {
	if !validRunID(runID) {
		return Outcome{}, fmt.Errorf("run id invalid")
	}
	hash, err := stateHash(seed, module, action, payload)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		RunID:         runID,
		Module:        module,
		Action:        action,
		Seed:          seed,
		StateHash:     hash,
		ReceiptHashes: []string{ident.SHA256Hex([]byte("receipt:" + hash))},
		ReplayOK:      true,
	}

	dir := e.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("create run dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, runID+".txt"), []byte(runID+"\n"), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write run marker: %w", err)
	}
	record := struct {
		runEnvelope
		StateHash     string   `json:"state_hash"`
		ReceiptHashes []string `json:"receipt_hashes"`
	}{
		runEnvelope:   runEnvelope{Seed: seed, RunID: runID, Module: module, Action: action, Payload: payload},
		StateHash:     hash,
		ReceiptHashes: out.ReceiptHashes,
	}
	text, err := ident.CanonicalJSON(record)
	if err != nil {
		return Outcome{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, "evidence.json"), []byte(text+"\n"), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write evidence: %w", err)
	}
	return out, nil
}

// Load reads a recorded run back from disk, or nil when absent. A run
// id outside the allowed alphabet is treated as absent.
func (e *LocalEngine) Load(runID string) (*Outcome, error) {
	if !validRunID(runID) {
		return nil, nil
	}
	raw, err := os.ReadFile(filepath.Join(e.RunDir(runID), "evidence.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}
	var record struct {
		runEnvelope
		StateHash     string   `json:"state_hash"`
		ReceiptHashes []string `json:"receipt_hashes"`
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	return &Outcome{
		RunID:         record.RunID,
		Module:        record.Module,
		Action:        record.Action,
		Seed:          record.Seed,
		StateHash:     record.StateHash,
		ReceiptHashes: record.ReceiptHashes,
		ReplayOK:      true,
	}, nil
}

// VerifyRun replays the recorded inputs and compares the digests.
func (e *LocalEngine) VerifyRun(runID string) (bool, error) {
	rec, err := e.Load(runID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, fmt.Errorf("run %s not found", runID)
	}
	raw, err := os.ReadFile(filepath.Join(e.RunDir(runID), "evidence.json"))
	if err != nil {
		return false, fmt.Errorf("read evidence: %w", err)
	}
	var record runEnvelope
	if err := json.Unmarshal(raw, &record); err != nil {
		return false, fmt.Errorf("decode evidence: %w", err)
	}
	recomputed, err := stateHash(record.Seed, record.Module, record.Action, record.Payload)
	if err != nil {
		return false, err
	}
	return ident.EqualConstantTime(recomputed, rec.StateHash), nil
}

// SafeArtifact resolves an artifact name inside the run directory,
// refusing absolute paths, ".." segments and symlinks that land outside
// the sandbox.
func (e *LocalEngine) SafeArtifact(runID, name string) (string, error) {
	if !validRunID(runID) {
		return "", fmt.Errorf("run id invalid")
	}
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("artifact path invalid")
	}
	for _, segment := range strings.Split(filepath.ToSlash(name), "/") {
		if segment == ".." {
			return "", fmt.Errorf("artifact path escapes run directory")
		}
	}
	dir := e.RunDir(runID)
	candidate := filepath.Join(dir, filepath.FromSlash(name))

	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolve run dir: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("artifact not found")
	}
	rel, err := filepath.Rel(resolvedDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path escapes run directory")
	}
	return candidate, nil
}
