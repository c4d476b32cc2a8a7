package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

// genesisDigest anchors every room's hash chain.
const genesisDigest = "0000000000000000000000000000000000000000000000000000000000000000"

const maxRoomMessageLen = 512

// CreateRoom registers a chat room with a deterministic id over its name
// and creation time.
func (s *Service) CreateRoom(ctx context.Context, conn *store.Conn, name string, isPublic bool) (*store.ChatRoom, error) {
	if name == "" || len(name) > 48 {
		return nil, apierr.ParamInvalid("name", "invalid")
	}
	createdAt := s.now()
	room := store.ChatRoom{
		RoomID:    "room-" + ident.SHA256Hex(fmt.Appendf(nil, "%s:%d", name, createdAt))[:12],
		Name:      name,
		CreatedAt: createdAt,
		IsPublic:  isPublic,
	}
	if err := conn.InsertChatRoom(ctx, room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ValidateCiphertextEnvelope checks that body is a JSON object carrying
// non-empty ciphertext and iv strings. The gateway never sees plaintext;
// it only chains opaque envelopes.
func ValidateCiphertextEnvelope(body string, maxLen int) error {
	if body == "" || len(body) > maxLen {
		return apierr.ParamInvalid("message", "invalid")
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return apierr.ParamInvalid("message", "must be e2ee json")
	}
	ciphertext, _ := parsed["ciphertext"].(string)
	if ciphertext == "" {
		return apierr.ParamInvalid("message", "missing ciphertext")
	}
	iv, _ := parsed["iv"].(string)
	if iv == "" {
		return apierr.ParamInvalid("message", "missing iv")
	}
	return nil
}

// MessageReceipt is the chain evidence returned with a posted message.
type MessageReceipt struct {
	PrevDigest string `json:"prev_digest"`
	MsgDigest  string `json:"msg_digest"`
	ChainHead  string `json:"chain_head"`
}

// PostMessage appends one message to the room's hash chain. The digest
// covers the canonical encoding of the identifying fields; the chain head
// is sha256(prev_digest || msg_digest).
func (s *Service) PostMessage(ctx context.Context, conn *store.Conn, roomID, senderAccountID, body string) (*store.ChatMessage, *MessageReceipt, error) {
	if err := ValidateCiphertextEnvelope(body, maxRoomMessageLen); err != nil {
		return nil, nil, err
	}
	room, err := conn.LoadByID(ctx, "chat_rooms", roomID)
	if err != nil {
		return nil, nil, err
	}
	if room == nil {
		return nil, nil, apierr.New(apierr.CodeNotFound, "room not found", http.StatusNotFound)
	}

	last, err := conn.GetLastChatMessage(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	prevDigest := genesisDigest
	seq := int64(1)
	if last != nil {
		prevDigest = last.ChainHead
		seq = last.Seq + 1
	}

	messageID := "msg-" + ident.SHA256Hex(fmt.Appendf(nil, "%s:%d", roomID, seq))[:12]
	msgDigest, err := ident.HashCanonical(map[string]any{
		"message_id":        messageID,
		"room_id":           roomID,
		"sender_account_id": senderAccountID,
		"body":              body,
		"seq":               seq,
	})
	if err != nil {
		return nil, nil, err
	}
	chainHead := ident.SHA256Hex([]byte(prevDigest + msgDigest))

	msg := store.ChatMessage{
		MessageID:       messageID,
		RoomID:          roomID,
		SenderAccountID: senderAccountID,
		Body:            body,
		Seq:             seq,
		PrevDigest:      prevDigest,
		MsgDigest:       msgDigest,
		ChainHead:       chainHead,
		CreatedAt:       s.now(),
	}
	if err := conn.InsertChatMessage(ctx, msg); err != nil {
		return nil, nil, err
	}
	return &msg, &MessageReceipt{PrevDigest: prevDigest, MsgDigest: msgDigest, ChainHead: chainHead}, nil
}

// VerifyChain recomputes a room's hash chain from its stored messages
// and reports the first broken link, if any.
func VerifyChain(ctx context.Context, conn *store.Conn, roomID string) (bool, int64, error) {
	prev := genesisDigest
	var after int64
	for {
		page, err := conn.ListChatMessages(ctx, roomID, after, 500)
		if err != nil {
			return false, 0, err
		}
		if len(page) == 0 {
			return true, 0, nil
		}
		for _, m := range page {
			digest, err := ident.HashCanonical(map[string]any{
				"message_id":        m.MessageID,
				"room_id":           m.RoomID,
				"sender_account_id": m.SenderAccountID,
				"body":              m.Body,
				"seq":               m.Seq,
			})
			if err != nil {
				return false, 0, err
			}
			if m.PrevDigest != prev || m.MsgDigest != digest ||
				m.ChainHead != ident.SHA256Hex([]byte(prev+digest)) {
				return false, m.Seq, nil
			}
			prev = m.ChainHead
			after = m.Seq
		}
	}
}
