package httpd

import "time"

type CreatePaymentReq struct {
	OrderRef string `json:"orderRef" validate:"required,max=64"`
	Amount   string `json:"amount" validate:"required"`
	Channel  string `json:"channel" validate:"required,oneof=bank-transfer wallet-qr"`
}

type PaymentResp struct {
	ID               string    `json:"id"`
	OrderRef         string    `json:"orderRef"`
	VerificationCode string    `json:"verificationCode"`
	Amount           string    `json:"amount"`
	AmountMinor      int64     `json:"amountMinor"`
	Currency         string    `json:"currency"`
	Channel          string    `json:"channel"`
	Deadline         time.Time `json:"deadline"`
	PaymentContent   string    `json:"paymentContent"`
}

type SMSWebhookReq struct {
	Text   string `json:"text" validate:"required"`
	Source string `json:"source" validate:"omitempty,max=64"`
}

type WalletWebhookReq struct {
	Transfers []TransferPayload `json:"transfers" validate:"required,min=1,dive"`
}

type TransferPayload struct {
	Amount     string     `json:"amount" validate:"required"`
	Currency   string     `json:"currency" validate:"omitempty,len=3"`
	Memo       string     `json:"memo"`
	OccurredAt *time.Time `json:"occurredAt"`
}

type IngestReq struct {
	Text string `json:"text" validate:"required"`
}

type RejectReq struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type TxItem struct {
	ID               string     `json:"id"`
	OrderRef         string     `json:"orderRef"`
	VerificationCode string     `json:"verificationCode"`
	Amount           string     `json:"amount"`
	AmountMinor      int64      `json:"amountMinor"`
	Currency         string     `json:"currency"`
	Channel          string     `json:"channel"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	Deadline         time.Time  `json:"deadline"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy       string     `json:"resolvedBy,omitempty"`
	Operator         string     `json:"operator,omitempty"`
	RejectionReason  string     `json:"rejectionReason,omitempty"`
}

type ResolutionResp struct {
	OK          bool   `json:"ok"`
	Transaction TxItem `json:"transaction"`
}

type OutcomeItem struct {
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	Reference     string    `json:"reference"`
	OccurredAt    time.Time `json:"occurredAt,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	Status        string    `json:"status,omitempty"`
	Candidates    []string  `json:"candidates,omitempty"`
}

type SummaryResp struct {
	Parsed          int           `json:"parsed"`
	Matched         int           `json:"matched"`
	Ambiguous       int           `json:"ambiguous"`
	NoMatch         int           `json:"noMatch"`
	AlreadyResolved int           `json:"alreadyResolved"`
	Outcomes        []OutcomeItem `json:"outcomes"`
}

type AuditItem struct {
	ID            int64      `json:"id"`
	Source        string     `json:"source"`
	Kind          string     `json:"kind"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Reference     string     `json:"reference"`
	OccurredAt    *time.Time `json:"occurredAt,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	Candidates    []string   `json:"candidates,omitempty"`
	RecordedAt    time.Time  `json:"recordedAt"`
}
