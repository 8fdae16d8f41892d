package domain

import (
	"errors"
	"time"
)

type TxStatus string

const (
	StatusOpen      TxStatus = "open"
	StatusConfirmed TxStatus = "confirmed"
	StatusRejected  TxStatus = "rejected"
	StatusExpired   TxStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s TxStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected || s == StatusExpired
}

func (s TxStatus) Valid() bool {
	return s == StatusOpen || s.Terminal()
}

type Channel string

const (
	ChannelBankTransfer Channel = "bank-transfer"
	ChannelWalletQR     Channel = "wallet-qr"
)

func (c Channel) Valid() bool {
	return c == ChannelBankTransfer || c == ChannelWalletQR
}

type ResolvedBy string

const (
	ResolvedByNone      ResolvedBy = ""
	ResolvedByAutomatic ResolvedBy = "automatic-match"
	ResolvedByOperator  ResolvedBy = "manual-operator"
	ResolvedByTimeout   ResolvedBy = "system-timeout"
)

// PendingTransaction is one payment window for one order. Only the registry
// mutates it, and only while Status is open.
type PendingTransaction struct {
	ID               string
	OrderRef         string
	VerificationCode string
	ExpectedAmount   int64
	Currency         string
	Channel          Channel
	Status           TxStatus
	CreatedAt        time.Time
	Deadline         time.Time
	ResolvedAt       *time.Time
	ResolvedBy       ResolvedBy
	Operator         string
	RejectionReason  string
}

// IsOpen reports whether the transaction still accepts a resolution.
func (t PendingTransaction) IsOpen() bool { return t.Status == StatusOpen }

// Event is the single terminal notification for a transaction.
type Event struct {
	TransactionID string     `json:"transactionId"`
	Status        TxStatus   `json:"resolved"`
	ResolvedBy    ResolvedBy `json:"resolvedBy"`
	Timestamp     time.Time  `json:"timestamp"`
}

// EventFor builds the terminal event of a resolved transaction.
func EventFor(t PendingTransaction) Event {
	ev := Event{
		TransactionID: t.ID,
		Status:        t.Status,
		ResolvedBy:    t.ResolvedBy,
	}
	if t.ResolvedAt != nil {
		ev.Timestamp = *t.ResolvedAt
	}
	return ev
}

var (
	ErrNotFound           = errors.New("transaction not found")
	ErrInvalidAmount      = errors.New("amount must be > 0")
	ErrInvalidChannel     = errors.New("unknown payment channel")
	ErrInvalidOrderRef    = errors.New("order reference is required")
	ErrInvalidStatus      = errors.New("resolution status must be terminal")
	ErrOperatorRequired   = errors.New("operator identity is required")
	ErrReasonRequired     = errors.New("rejection reason is required")
	ErrCodeSpaceExhausted = errors.New("no free verification code")
)
