package store

// Typed rows. Fields mirror the table columns; receipt hash lists are
// stored as canonical JSON arrays in TEXT columns.

type EvidenceRun struct {
	RunID         string   `json:"run_id"`
	Module        string   `json:"module"`
	Action        string   `json:"action"`
	Seed          int64    `json:"seed"`
	StateHash     string   `json:"state_hash"`
	ReceiptHashes []string `json:"receipt_hashes"`
	ReplayOK      bool     `json:"replay_ok"`
}

type Receipt struct {
	ReceiptID     string   `json:"receipt_id"`
	Module        string   `json:"module"`
	Action        string   `json:"action"`
	StateHash     string   `json:"state_hash"`
	ReceiptHashes []string `json:"receipt_hashes"`
	ReplayOK      bool     `json:"replay_ok"`
	RunID         string   `json:"run_id"`
}

type FeeLedger struct {
	FeeID             string `json:"fee_id"`
	Module            string `json:"module"`
	Action            string `json:"action"`
	ProtocolFeeTotal  int64  `json:"protocol_fee_total"`
	PlatformFeeAmount int64  `json:"platform_fee_amount"`
	TotalPaid         int64  `json:"total_paid"`
	FeeAddress        string `json:"fee_address"`
	RunID             string `json:"run_id"`
}

type WalletAccount struct {
	Address string `json:"address"`
	AssetID string `json:"asset_id"`
	Balance int64  `json:"balance"`
}

type WalletTransfer struct {
	TransferID      string `json:"transfer_id"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	AssetID         string `json:"asset_id"`
	Amount          int64  `json:"amount"`
	FeeTotal        int64  `json:"fee_total"`
	TreasuryAddress string `json:"treasury_address"`
	RunID           string `json:"run_id"`
}

const (
	OrderStatusOpen      = "open"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

type Order struct {
	OrderID      string `json:"order_id"`
	OwnerAddress string `json:"owner_address"`
	Side         string `json:"side"`
	Amount       int64  `json:"amount"` // remaining: quote for BUY, base for SELL
	Price        int64  `json:"price"`
	AssetIn      string `json:"asset_in"`
	AssetOut     string `json:"asset_out"`
	Status       string `json:"status"`
	RunID        string `json:"run_id"`
}

type Trade struct {
	TradeID string `json:"trade_id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"` // base units
	Price   int64  `json:"price"`
	RunID   string `json:"run_id"`
}

type MessageEvent struct {
	MessageID       string `json:"message_id"`
	Channel         string `json:"channel"`
	SenderAccountID string `json:"sender_account_id"`
	Body            string `json:"body"`
	RunID           string `json:"run_id"`
}

const (
	ListingStatusActive = "active"
	ListingStatusSold   = "sold"
)

type Listing struct {
	ListingID   string `json:"listing_id"`
	PublisherID string `json:"publisher_id"`
	SKU         string `json:"sku"`
	Title       string `json:"title"`
	Price       int64  `json:"price"`
	Status      string `json:"status"`
	RunID       string `json:"run_id"`
}

type Purchase struct {
	PurchaseID string `json:"purchase_id"`
	ListingID  string `json:"listing_id"`
	BuyerID    string `json:"buyer_id"`
	Qty        int64  `json:"qty"`
	RunID      string `json:"run_id"`
}

type PortalAccount struct {
	AccountID     string `json:"account_id"`
	Handle        string `json:"handle"`
	PublicKey     string `json:"public_key"`
	WalletAddress string `json:"wallet_address"`
	CreatedAt     int64  `json:"created_at"`
	Status        string `json:"status"`
	Bio           string `json:"bio,omitempty"`
}

type PortalChallenge struct {
	AccountID string `json:"account_id"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expires_at"`
	Used      bool   `json:"used"`
}

type PortalSession struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
	ExpiresAt int64  `json:"expires_at"`
}

type ChatRoom struct {
	RoomID    string `json:"room_id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	IsPublic  bool   `json:"is_public"`
}

type ChatMessage struct {
	MessageID       string `json:"message_id"`
	RoomID          string `json:"room_id"`
	SenderAccountID string `json:"sender_account_id"`
	Body            string `json:"body"`
	Seq             int64  `json:"seq"`
	PrevDigest      string `json:"prev_digest"`
	MsgDigest       string `json:"msg_digest"`
	ChainHead       string `json:"chain_head"`
	CreatedAt       int64  `json:"created_at"`
}

type FaucetClaim struct {
	ClaimID   string `json:"claim_id"`
	AccountID string `json:"account_id"`
	Address   string `json:"address"`
	AssetID   string `json:"asset_id"`
	Amount    int64  `json:"amount"`
	IP        string `json:"ip"`
	CreatedAt int64  `json:"created_at"`
	RunID     string `json:"run_id"`
}

type AirdropClaim struct {
	ClaimID   string `json:"claim_id"`
	AccountID string `json:"account_id"`
	TaskID    string `json:"task_id"`
	Reward    int64  `json:"reward"`
	CreatedAt int64  `json:"created_at"`
	RunID     string `json:"run_id"`
}

type EntertainmentItem struct {
	ItemID   string `json:"item_id"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Category string `json:"category"`
}

type EntertainmentEvent struct {
	EventID string `json:"event_id"`
	ItemID  string `json:"item_id"`
	Mode    string `json:"mode"`
	Step    int64  `json:"step"`
	RunID   string `json:"run_id"`
}

type Web2GuardRequest struct {
	RequestID         string   `json:"request_id"`
	AccountID         string   `json:"account_id"`
	RunID             string   `json:"run_id"`
	URL               string   `json:"url"`
	Method            string   `json:"method"`
	RequestHash       string   `json:"request_hash"`
	ResponseHash      string   `json:"response_hash"`
	ResponseStatus    int64    `json:"response_status"`
	ResponseSize      int64    `json:"response_size"`
	ResponseTruncated bool     `json:"response_truncated"`
	BodySize          int64    `json:"body_size"`
	HeaderNames       []string `json:"header_names"`
	SealedRequest     string   `json:"sealed_request,omitempty"`
	CreatedAt         int64    `json:"created_at"`
}
