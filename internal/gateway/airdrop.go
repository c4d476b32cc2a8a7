package gateway

import (
	"context"
	"net/http"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/evidence"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

// AirdropTask is the static task catalog entry.
type AirdropTask struct {
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Reward      int64  `json:"reward"`
}

var airdropTasks = []AirdropTask{
	{TaskID: "trade_1", Title: "Complete 1 trade", Description: "Get an order filled on NYXT/ECHO.", Reward: 250},
	{TaskID: "chat_1", Title: "Send 1 E2EE DM", Description: "Send one encrypted DM message.", Reward: 100},
	{TaskID: "store_1", Title: "Buy 1 item", Description: "Complete one marketplace purchase.", Reward: 200},
}

// AirdropTaskStatus reports one task's completion and claim state for a
// caller.
type AirdropTaskStatus struct {
	AirdropTask
	Completed       bool    `json:"completed"`
	CompletionRunID *string `json:"completion_run_id"`
	Claimed         bool    `json:"claimed"`
	ClaimRunID      *string `json:"claim_run_id"`
	Claimable       bool    `json:"claimable"`
}

// completionRunID finds the run proving the caller finished the task.
// Trades and purchases key on the wallet; messages on the account id.
func completionRunID(ctx context.Context, conn *store.Conn, caller Caller, taskID string) (*string, error) {
	switch taskID {
	case "trade_1":
		return conn.FirstTradeRunID(ctx, caller.Wallet)
	case "chat_1":
		return conn.FirstMessageRunID(ctx, caller.AccountID)
	case "store_1":
		return conn.FirstPurchaseRunID(ctx, caller.Wallet)
	}
	return nil, nil
}

// AirdropTasks lists the catalog with per-caller completion and claim
// state.
func (e *Executor) AirdropTasks(ctx context.Context, caller Caller) ([]AirdropTaskStatus, error) {
	conn := e.Store.Conn()
	claims, err := conn.ListAirdropClaims(ctx, caller.Wallet)
	if err != nil {
		return nil, err
	}
	claimed := make(map[string]store.AirdropClaim, len(claims))
	for _, claim := range claims {
		claimed[claim.TaskID] = claim
	}

	out := make([]AirdropTaskStatus, 0, len(airdropTasks))
	for _, task := range airdropTasks {
		status := AirdropTaskStatus{AirdropTask: task}
		runID, err := completionRunID(ctx, conn, caller, task.TaskID)
		if err != nil {
			return nil, err
		}
		status.CompletionRunID = runID
		status.Completed = runID != nil
		if claim, ok := claimed[task.TaskID]; ok {
			status.Claimed = true
			claimRun := claim.RunID
			status.ClaimRunID = &claimRun
		}
		status.Claimable = status.Completed && !status.Claimed
		out = append(out, status)
	}
	return out, nil
}

// ExecuteAirdropClaim pays out one completed task. Each task is
// claimable exactly once per wallet; the unique claim row enforces that
// even under replays.
func (e *Executor) ExecuteAirdropClaim(ctx context.Context, seed int64, runID, taskID string, caller Caller) (*Result, error) {
	if caller.Wallet == "" {
		return nil, apierr.AuthRequired()
	}
	if !addressRE.MatchString(taskID) || len(taskID) > 32 {
		return nil, apierr.ParamInvalid("task_id", "invalid")
	}
	var task *AirdropTask
	for i := range airdropTasks {
		if airdropTasks[i].TaskID == taskID {
			task = &airdropTasks[i]
			break
		}
	}
	if task == nil {
		return nil, apierr.New(apierr.CodeTaskUnknown, "task_id not supported", http.StatusNotFound).
			WithDetails(map[string]any{"task_id": taskID})
	}
	if err := e.checkRisk("wallet.airdrop", caller, task.Reward); err != nil {
		return nil, err
	}
	if err := e.clearance(ctx, caller, "wallet", "airdrop", runID, map[string]any{
		"task_id": taskID, "reward": task.Reward,
	}); err != nil {
		return nil, err
	}

	res, err := e.airdropTx(ctx, seed, runID, *task, caller)
	e.finish("wallet", "airdrop", err)
	return res, err
}

func (e *Executor) airdropTx(ctx context.Context, seed int64, runID string, task AirdropTask, caller Caller) (*Result, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	conn := &tx.Conn

	existing, err := conn.GetAirdropClaim(ctx, caller.Wallet, task.TaskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.New(apierr.CodeTaskAlreadyClaimed, "airdrop already claimed", http.StatusConflict).
			WithDetails(map[string]any{"task_id": task.TaskID, "claim_run_id": existing.RunID})
	}
	completion, err := completionRunID(ctx, conn, caller, task.TaskID)
	if err != nil {
		return nil, err
	}
	if completion == nil {
		return nil, apierr.New(apierr.CodeTaskIncomplete, "task not completed yet", http.StatusConflict).
			WithDetails(map[string]any{"task_id": task.TaskID})
	}

	runPayload := map[string]any{
		"address":           caller.Wallet,
		"task_id":           task.TaskID,
		"reward":            task.Reward,
		"completion_run_id": *completion,
	}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "wallet", "airdrop", runPayload)
	if err != nil {
		return nil, err
	}
	quote := e.Pricer.RouteFee("wallet", "airdrop", runPayload, runID, caller.Wallet)
	balance, err := conn.ApplyFaucetWithFee(ctx, caller.Wallet, task.Reward, quote.Total(),
		quote.Ledger.FeeAddress, runID, assets.NYXT)
	if err != nil {
		return nil, err
	}
	if err := conn.InsertFeeLedger(ctx, quote.Ledger); err != nil {
		return nil, err
	}
	claim := store.AirdropClaim{
		ClaimID:   ident.DeterministicID("airdrop-claim", runID),
		AccountID: caller.Wallet,
		TaskID:    task.TaskID,
		Reward:    task.Reward,
		CreatedAt: e.now(),
		RunID:     runID,
	}
	if err := conn.InsertAirdropClaim(ctx, claim); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	res.Claim = &claim
	res.Balance = &balance
	return res, nil
}
