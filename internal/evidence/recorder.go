package evidence

import (
	"context"
	"fmt"

	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

// RunAndRecord executes a run and persists the EvidenceRun and Receipt
// rows on the caller's connection. An engine failure propagates without
// recording anything; a duplicate run_id records idempotently.
func RunAndRecord(ctx context.Context, eng Engine, conn *store.Conn, seed int64, runID, module, action string, payload map[string]any) (Outcome, error) {
	out, err := eng.Run(seed, runID, module, action, payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("evidence run: %w", err)
	}
	if err := conn.InsertEvidenceRun(ctx, store.EvidenceRun{
		RunID:         out.RunID,
		Module:        out.Module,
		Action:        out.Action,
		Seed:          out.Seed,
		StateHash:     out.StateHash,
		ReceiptHashes: out.ReceiptHashes,
		ReplayOK:      out.ReplayOK,
	}); err != nil {
		return Outcome{}, err
	}
	if err := conn.InsertReceipt(ctx, store.Receipt{
		ReceiptID:     ident.ReceiptID(runID),
		Module:        out.Module,
		Action:        out.Action,
		StateHash:     out.StateHash,
		ReceiptHashes: out.ReceiptHashes,
		ReplayOK:      out.ReplayOK,
		RunID:         out.RunID,
	}); err != nil {
		return Outcome{}, err
	}
	return out, nil
}
