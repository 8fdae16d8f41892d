package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"payment_reconciliation/internal/domain"
	"payment_reconciliation/internal/money"
	"payment_reconciliation/internal/notify"
	"payment_reconciliation/internal/repository"
	"payment_reconciliation/internal/usecase"
)

const defaultHeartbeat = 15 * time.Second

// Service is the reconciliation façade the HTTP surface drives.
type Service interface {
	CreateRequest(ctx context.Context, orderRef string, amountMinor int64, channel domain.Channel) (*usecase.PaymentRequest, error)
	IngestText(ctx context.Context, source, text string) (domain.IngestSummary, error)
	IngestTransfers(ctx context.Context, source string, transfers []usecase.Transfer) (domain.IngestSummary, error)
	ManualConfirm(ctx context.Context, id, operator string) (bool, domain.PendingTransaction, error)
	ManualReject(ctx context.Context, id, operator, reason string) (bool, domain.PendingTransaction, error)
	Subscribe(ctx context.Context, id string) (*notify.Subscription, error)
	GetStatus(ctx context.Context, id string) (domain.PendingTransaction, error)
	ListOpen(ctx context.Context) []domain.PendingTransaction
	ListTransactions(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.PendingTransaction, error)
	ListAudit(ctx context.Context, transactionID string, limit, offset int) ([]domain.AuditRecord, error)
}

type Handler struct {
	svc       Service
	currency  string
	validate  *validator.Validate
	heartbeat time.Duration
	health    func(ctx context.Context) error
}

type Option func(*Handler)

// WithHeartbeat sets the SSE keep-alive period.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithHealthCheck makes /healthz report the result of fn.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(h *Handler) { h.health = fn }
}

func NewHandler(svc Service, currency string, opts ...Option) *Handler {
	h := &Handler{
		svc:       svc,
		currency:  strings.ToUpper(currency),
		validate:  validator.New(),
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type RouteConfig struct {
	Sig            SigConfig
	Operators      map[string]string
	AllowedOrigins []string
}

func (h *Handler) Routes(rc RouteConfig) http.Handler {
	r := chi.NewRouter()

	origins := rc.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Timestamp", "X-Signature", "X-Operator-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)

		r.Get("/payments/{id}", h.GetPayment)
		r.Get("/payments/{id}/events", h.PaymentEvents)

		r.Group(func(r chi.Router) {
			r.Use(SignatureMiddleware(rc.Sig))
			r.Post("/payments", h.CreatePayment)
			r.Post("/webhooks/sms", h.SMSWebhook)
			r.Post("/webhooks/wallet", h.WalletWebhook)
		})

		r.Route("/operator", func(r chi.Router) {
			r.Use(OperatorMiddleware(rc.Operators))
			r.Post("/ingest", h.OperatorIngest)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/transactions/open", h.ListOpen)
			r.Post("/transactions/{id}/confirm", h.Confirm)
			r.Post("/transactions/{id}/reject", h.Reject)
			r.Get("/audit", h.ListAudit)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

var ErrBadAmount = &apiErr{Status: http.StatusBadRequest, Msg: "invalid amount format"}

type apiErr struct {
	Status int
	Msg    string
}

func (e *apiErr) Error() string { return e.Msg }

// writeErr maps service errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	var ae *apiErr
	switch {
	case errors.As(err, &ae):
		writeJSON(w, ae.Status, map[string]string{"error": ae.Msg})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidChannel),
		errors.Is(err, domain.ErrInvalidOrderRef),
		errors.Is(err, domain.ErrOperatorRequired),
		errors.Is(err, domain.ErrReasonRequired):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrCodeSpaceExhausted):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) parseAmount(value, currency string) (int64, error) {
	if currency == "" {
		currency = h.currency
	}
	minor, err := money.ParseMinor(value, currency)
	if err != nil {
		return 0, ErrBadAmount
	}
	if minor <= 0 {
		return 0, &apiErr{Status: http.StatusBadRequest, Msg: "amount must be > 0"}
	}
	return minor, nil
}

// POST /api/v1/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentReq
	if !h.decode(w, r, &req) {
		return
	}

	amountMinor, err := h.parseAmount(req.Amount, "")
	if err != nil {
		writeErr(w, err)
		return
	}

	pr, err := h.svc.CreateRequest(r.Context(), req.OrderRef, amountMinor, domain.Channel(req.Channel))
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, PaymentResp{
		ID:               pr.ID,
		OrderRef:         pr.OrderRef,
		VerificationCode: pr.VerificationCode,
		Amount:           money.FormatMinor(pr.Amount, pr.Currency),
		AmountMinor:      pr.Amount,
		Currency:         pr.Currency,
		Channel:          string(pr.Channel),
		Deadline:         pr.Deadline,
		PaymentContent:   pr.PaymentContent,
	})
}

// GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTxItem(t))
}

// GET /api/v1/payments/{id}/events
//
// Streams the single terminal event as "event: resolved" and then ends.
func (h *Handler) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.svc.Subscribe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("ERROR: Failed to marshal event for %s: %v", ev.TransactionID, err)
				return
			}
			fmt.Fprintf(w, "event: resolved\ndata: %s\n\n", data)
			flusher.Flush()
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// POST /api/v1/webhooks/sms
func (h *Handler) SMSWebhook(w http.ResponseWriter, r *http.Request) {
	var req SMSWebhookReq
	if !h.decode(w, r, &req) {
		return
	}

	source := "sms"
	if req.Source != "" {
		source = "sms:" + req.Source
	}
	summary, err := h.svc.IngestText(r.Context(), source, req.Text)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(summary))
}

// POST /api/v1/webhooks/wallet
func (h *Handler) WalletWebhook(w http.ResponseWriter, r *http.Request) {
	var req WalletWebhookReq
	if !h.decode(w, r, &req) {
		return
	}

	transfers := make([]usecase.Transfer, 0, len(req.Transfers))
	for _, p := range req.Transfers {
		currency := strings.ToUpper(p.Currency)
		if currency == "" {
			currency = h.currency
		}
		amountMinor, err := h.parseAmount(p.Amount, currency)
		if err != nil {
			writeErr(w, err)
			return
		}
		tr := usecase.Transfer{Amount: amountMinor, Currency: currency, Memo: p.Memo}
		if p.OccurredAt != nil {
			tr.OccurredAt = *p.OccurredAt
		}
		transfers = append(transfers, tr)
	}

	summary, err := h.svc.IngestTransfers(r.Context(), "wallet", transfers)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(summary))
}

// POST /api/v1/operator/ingest
func (h *Handler) OperatorIngest(w http.ResponseWriter, r *http.Request) {
	operator, _ := OperatorFrom(r.Context())

	var req IngestReq
	if !h.decode(w, r, &req) {
		return
	}

	summary, err := h.svc.IngestText(r.Context(), "operator:"+operator, req.Text)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(summary))
}

// GET /api/v1/operator/transactions?status=&orderRef=&channel=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TxFilter{
		OrderRef: q.Get("orderRef"),
		Status:   domain.TxStatus(q.Get("status")),
		Channel:  domain.Channel(q.Get("channel")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	limit, offset := pageParams(r)
	items, err := h.svc.ListTransactions(r.Context(), filter, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]TxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/operator/transactions/open
func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	items := h.svc.ListOpen(r.Context())
	out := make([]TxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/v1/operator/transactions/{id}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	operator, _ := OperatorFrom(r.Context())

	ok, t, err := h.svc.ManualConfirm(r.Context(), chi.URLParam(r, "id"), operator)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolutionResp{OK: ok, Transaction: toTxItem(t)})
}

// POST /api/v1/operator/transactions/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	operator, _ := OperatorFrom(r.Context())

	var req RejectReq
	if !h.decode(w, r, &req) {
		return
	}

	ok, t, err := h.svc.ManualReject(r.Context(), chi.URLParam(r, "id"), operator, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolutionResp{OK: ok, Transaction: toTxItem(t)})
}

// GET /api/v1/operator/audit?transactionId=&limit=&offset=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	recs, err := h.svc.ListAudit(r.Context(), r.URL.Query().Get("transactionId"), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]AuditItem, 0, len(recs))
	for _, a := range recs {
		item := AuditItem{
			ID:            a.ID,
			Source:        a.Source,
			Kind:          string(a.Kind),
			Amount:        money.FormatMinor(a.Amount, a.Currency),
			Currency:      a.Currency,
			Reference:     a.Reference,
			TransactionID: a.TransactionID,
			Candidates:    a.Candidates,
			RecordedAt:    a.RecordedAt,
		}
		if !a.OccurredAt.IsZero() {
			at := a.OccurredAt
			item.OccurredAt = &at
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func toTxItem(t domain.PendingTransaction) TxItem {
	return TxItem{
		ID:               t.ID,
		OrderRef:         t.OrderRef,
		VerificationCode: t.VerificationCode,
		Amount:           money.FormatMinor(t.ExpectedAmount, t.Currency),
		AmountMinor:      t.ExpectedAmount,
		Currency:         t.Currency,
		Channel:          string(t.Channel),
		Status:           string(t.Status),
		CreatedAt:        t.CreatedAt,
		Deadline:         t.Deadline,
		ResolvedAt:       t.ResolvedAt,
		ResolvedBy:       string(t.ResolvedBy),
		Operator:         t.Operator,
		RejectionReason:  t.RejectionReason,
	}
}

func toSummary(s domain.IngestSummary) SummaryResp {
	out := SummaryResp{
		Parsed:          s.ParsedCount,
		Matched:         s.MatchedCount,
		Ambiguous:       s.AmbiguousCount,
		NoMatch:         s.NoMatchCount,
		AlreadyResolved: s.AlreadyResolvedCount,
		Outcomes:        make([]OutcomeItem, 0, len(s.Outcomes)),
	}
	for _, o := range s.Outcomes {
		currency := o.Entry.Currency
		item := OutcomeItem{
			Kind:       string(o.Kind),
			Currency:   currency,
			Reference:  o.Entry.Reference,
			OccurredAt: o.Entry.OccurredAt,
			Candidates: o.Candidates,
		}
		if o.Transaction != nil {
			item.TransactionID = o.Transaction.ID
			item.Status = string(o.Transaction.Status)
			if currency == "" {
				currency = o.Transaction.Currency
			}
		}
		item.Amount = money.FormatMinor(o.Entry.Amount, currency)
		out.Outcomes = append(out.Outcomes, item)
	}
	return out
}
