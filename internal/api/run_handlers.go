package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/gateway"
)

// applyIdentityDefaults fills the owner-shaped payload fields from the
// session wallet when the client omits them. The executor still rejects
// values that do not match the caller.
func applyIdentityDefaults(module, action string, payload map[string]any, cl gateway.Caller) {
	if cl.Wallet == "" {
		return
	}
	switch {
	case module == "exchange" && action == "place_order":
		if _, ok := payload["owner_address"]; !ok {
			payload["owner_address"] = cl.Wallet
		}
	case module == "marketplace" && action == "listing_publish":
		if _, ok := payload["publisher_id"]; !ok {
			payload["publisher_id"] = cl.Wallet
		}
	case module == "marketplace" && action == "purchase_listing":
		if _, ok := payload["buyer_id"]; !ok {
			payload["buyer_id"] = cl.Wallet
		}
	}
}

func (s *Server) publish(event string, payload gin.H) {
	if s.Hub == nil {
		return
	}
	payload["type"] = event
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.Hub.Broadcast(raw)
}

func (s *Server) publishRunEvents(res *gateway.Result) {
	if len(res.Trades) > 0 {
		s.publish("trade", gin.H{"run_id": res.RunID, "trades": res.Trades})
	}
	if res.Message != nil {
		s.publish("chat_message", gin.H{"run_id": res.RunID, "message": res.Message})
	}
}

// executeAction is the shared body of every envelope-driven mutation
// endpoint.
func (s *Server) executeAction(c *gin.Context, module, action string) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	seed, runID, payload, err := mutationEnvelope(body)
	if err != nil {
		writeErr(c, err)
		return
	}
	cl := caller(c)
	applyIdentityDefaults(module, action, payload, cl)

	res, err := s.Exec.Execute(c.Request.Context(), seed, runID, module, action, payload, cl)
	if err != nil {
		writeErr(c, err)
		return
	}
	s.publishRunEvents(res)
	c.JSON(http.StatusOK, runResponse(res, cl.Wallet))
}

// handleRun is the generic dispatch endpoint: the module and action ride
// in the body next to the run envelope.
func (s *Server) handleRun(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	module, _ := body["module"].(string)
	module = strings.TrimSpace(module)
	if module == "" {
		writeErr(c, apierr.ParamRequired("module"))
		return
	}
	action, _ := body["action"].(string)
	action = strings.TrimSpace(action)
	if action == "" {
		writeErr(c, apierr.ParamRequired("action"))
		return
	}
	seed, runID, payload, err := mutationEnvelope(body)
	if err != nil {
		writeErr(c, err)
		return
	}
	delete(payload, "module")
	delete(payload, "action")
	cl := caller(c)
	applyIdentityDefaults(module, action, payload, cl)

	res, err := s.Exec.Execute(c.Request.Context(), seed, runID, module, action, payload, cl)
	if err != nil {
		writeErr(c, err)
		return
	}
	s.publishRunEvents(res)
	c.JSON(http.StatusOK, runResponse(res, cl.Wallet))
}

// handleRunStatus reports the recorded outcome of one run.
func (s *Server) handleRunStatus(c *gin.Context) {
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
	c.JSON(http.StatusOK, gin.H{
		"run_id":    outcome.RunID,
		"status":    "complete",
		"replay_ok": outcome.ReplayOK,
	})
}
