package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/portal"
)

func (s *Server) handleCreateRoom(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	name, _ := body["name"].(string)
	isPublic := true
	if raw, ok := body["is_public"].(bool); ok {
		isPublic = raw
	}
	room, err := s.Portal.CreateRoom(c.Request.Context(), s.Store.Conn(), strings.TrimSpace(name), isPublic)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (s *Server) handleListRooms(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50, 1, 200)
	if err != nil {
		writeErr(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0, 0, 1<<31)
	if err != nil {
		writeErr(c, err)
		return
	}
	rooms, err := s.Store.Conn().ListChatRooms(c.Request.Context(), limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "limit": limit, "offset": offset})
}

func (s *Server) handlePostRoomMessage(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("room_id"))
	if roomID == "" {
		writeErr(c, apierr.ParamRequired("room_id"))
		return
	}
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	text, _ := body["body"].(string)
	cl := caller(c)
	msg, receipt, err := s.Portal.PostMessage(c.Request.Context(), s.Store.Conn(), roomID, cl.AccountID, text)
	if err != nil {
		writeErr(c, err)
		return
	}
	s.publish("room_message", gin.H{"room_id": roomID, "message": msg})
	c.JSON(http.StatusOK, gin.H{"message": msg, "receipt": receipt})
}

func (s *Server) handleListRoomMessages(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("room_id"))
	if roomID == "" {
		writeErr(c, apierr.ParamRequired("room_id"))
		return
	}
	after, err := queryInt(c, "after", 0, 0, 1<<62)
	if err != nil {
		writeErr(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 50, 1, 200)
	if err != nil {
		writeErr(c, err)
		return
	}
	messages, err := s.Store.Conn().ListChatMessages(c.Request.Context(), roomID, after, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "messages": messages})
}

// handleVerifyRoomChain recomputes the room's hash chain and reports the
// first broken link, if any.
func (s *Server) handleVerifyRoomChain(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("room_id"))
	if roomID == "" {
		writeErr(c, apierr.ParamRequired("room_id"))
		return
	}
	ok, brokenSeq, err := portal.VerifyChain(c.Request.Context(), s.Store.Conn(), roomID)
	if err != nil {
		writeErr(c, err)
		return
	}
	out := gin.H{"room_id": roomID, "chain_ok": ok}
	if !ok {
		out["broken_seq"] = brokenSeq
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleConversations(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50, 1, 200)
	if err != nil {
		writeErr(c, err)
		return
	}
	cl := caller(c)
	channels, err := s.Store.Conn().ListConversationChannels(c.Request.Context(), cl.AccountID, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": cl.AccountID, "conversations": channels})
}

// handleChannelMessages serves the flat event-log view of a channel. A
// caller may only read the lobby or channels naming their own account.
func (s *Server) handleChannelMessages(c *gin.Context) {
	channel := strings.TrimSpace(c.Query("channel"))
	if channel == "" {
		writeErr(c, apierr.ParamRequired("channel"))
		return
	}
	cl := caller(c)
	if channel != "lobby" && !strings.Contains(channel, cl.AccountID) {
		writeErr(c, apierr.New(apierr.CodeForbiddenChatChannel,
			"channel not accessible", http.StatusForbidden))
		return
	}
	limit, err := queryInt(c, "limit", 50, 1, 200)
	if err != nil {
		writeErr(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0, 0, 1<<31)
	if err != nil {
		writeErr(c, err)
		return
	}
	events, err := s.Store.Conn().ListMessageEvents(c.Request.Context(), channel, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": channel, "messages": events})
}

func (s *Server) handleChatSend(c *gin.Context) {
	s.executeAction(c, "chat", "message_event")
}
