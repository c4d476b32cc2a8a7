package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/evidence"
)

func (s *Server) handleEvidence(c *gin.Context) {
	runID := strings.TrimSpace(c.Query("run_id"))
	if runID == "" {
		writeErr(c, apierr.ParamRequired("run_id"))
		return
	}
	outcome, err := s.Engine.Load(runID)
	if err != nil {
		writeErr(c, err)
		return
	}
	if outcome == nil {
		writeErr(c, apierr.New(apierr.CodeNotFound, "run_id not found", http.StatusNotFound))
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// handleReplay re-executes the run from its recorded inputs and compares
// state hashes.
func (s *Server) handleReplay(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	runID, _ := body["run_id"].(string)
	runID = strings.TrimSpace(runID)
	if runID == "" {
		writeErr(c, apierr.ParamRequired("run_id"))
		return
	}
	outcome, err := s.Engine.Load(runID)
	if err != nil {
		writeErr(c, err)
		return
	}
	if outcome == nil {
		writeErr(c, apierr.New(apierr.CodeNotFound, "run_id not found", http.StatusNotFound))
		return
	}
	ok, err := s.Engine.VerifyRun(runID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "replay_ok": ok})
}

func (s *Server) handleArtifact(c *gin.Context) {
	runID := strings.TrimSpace(c.Query("run_id"))
	if runID == "" {
		writeErr(c, apierr.ParamRequired("run_id"))
		return
	}
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		writeErr(c, apierr.ParamRequired("name"))
		return
	}
	path, err := s.Engine.SafeArtifact(runID, name)
	if err != nil {
		writeErr(c, apierr.New(apierr.CodeNotFound, "artifact not found", http.StatusNotFound))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		writeErr(c, apierr.New(apierr.CodeNotFound, "artifact not found", http.StatusNotFound))
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleExportZip(c *gin.Context) {
	runID := strings.TrimSpace(c.Query("run_id"))
	if runID == "" {
		writeErr(c, apierr.ParamRequired("run_id"))
		return
	}
	outcome, err := s.Engine.Load(runID)
	if err != nil {
		writeErr(c, err)
		return
	}
	if outcome == nil {
		writeErr(c, apierr.New(apierr.CodeNotFound, "run_id not found", http.StatusNotFound))
		return
	}
	data, err := evidence.BuildExportZip(s.Engine, runID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+runID+`.zip"`)
	c.Data(http.StatusOK, "application/zip", data)
}

// handleProofZip bundles the evidence for every run of the caller whose
// run id carries the given prefix.
func (s *Server) handleProofZip(c *gin.Context) {
	prefix := strings.TrimSpace(c.Query("prefix"))
	if prefix == "" {
		writeErr(c, apierr.ParamRequired("prefix"))
		return
	}
	if !runIDRE.MatchString(prefix) {
		writeErr(c, apierr.ParamInvalid("prefix", "invalid"))
		return
	}
	limit, err := queryInt(c, "limit", 200, 1, 500)
	if err != nil {
		writeErr(c, err)
		return
	}
	cl := caller(c)
	receipts, err := s.Store.Conn().ListAccountRunReceipts(c.Request.Context(), cl.AccountID, cl.Wallet, prefix, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	if len(receipts) == 0 {
		writeErr(c, apierr.New(apierr.CodeNotFound, "no runs found for prefix", http.StatusNotFound))
		return
	}
	data, err := evidence.BuildProofZip(s.Engine, cl.AccountID, prefix, receipts)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="proof-`+prefix+`.zip"`)
	c.Data(http.StatusOK, "application/zip", data)
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100, 1, 500)
	if err != nil {
		writeErr(c, err)
		return
	}
	ids, err := s.Store.Conn().ListRunIDs(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	runs := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		runs = append(runs, gin.H{"run_id": id, "status": "complete"})
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
