package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/billdash/internal/backend"
	"github.com/hitoshi/billdash/internal/model"
	"github.com/hitoshi/billdash/internal/security"
)

// BillingAPI はプロキシ・集計ハンドラーが必要とするバックエンドAPIのインターフェース。
// backend.Clientが実装する。
type BillingAPI interface {
	ListPayers(ctx context.Context) ([]model.PayerAccount, error)
	GetPayer(ctx context.Context, id string) (model.PayerAccount, error)
	CreatePayer(ctx context.Context, p backend.Payload) (model.PayerAccount, error)
	UpdatePayer(ctx context.Context, id string, p backend.Payload) (model.PayerAccount, error)
	DeletePayer(ctx context.Context, id string) error

	ListUsages(ctx context.Context) ([]model.UsageAccount, error)
	GetUsage(ctx context.Context, id string) (model.UsageAccount, error)
	CreateUsage(ctx context.Context, p backend.Payload) (model.UsageAccount, error)
	UpdateUsage(ctx context.Context, id string, p backend.Payload) (model.UsageAccount, error)
	DeleteUsage(ctx context.Context, id string) error

	ListTransactions(ctx context.Context) ([]model.Transaction, error)
	ListTransactionsByPayer(ctx context.Context, payerID string) ([]model.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, payerID, accountID string) ([]model.Transaction, error)
	GetTransaction(ctx context.Context, payerID, accountID, txID string) (model.Transaction, error)
	CreateTransaction(ctx context.Context, p backend.Payload) (model.Transaction, error)
	UpdateTransaction(ctx context.Context, payerID, accountID, txID string, p backend.Payload) (model.Transaction, error)
	DeleteTransaction(ctx context.Context, payerID, accountID, txID string) error

	Snapshot(ctx context.Context) (*backend.Snapshot, error)
}

var _ BillingAPI = (*backend.Client)(nil)

// ProxyHandler はアカウント・取引のCRUDをバックエンドへ中継するハンドラー。
// 書き込み時は自由入力テキストをサニタイズしてから転送する。
type ProxyHandler struct {
	api       BillingAPI
	sanitizer security.TextSanitizer
}

// NewProxyHandler はProxyHandlerを生成する。
func NewProxyHandler(api BillingAPI, sanitizer security.TextSanitizer) *ProxyHandler {
	return &ProxyHandler{api: api, sanitizer: sanitizer}
}

// readPayload はボディを読み取り、自由入力テキストをサニタイズする。
// 失敗時は400を書き込みfalseを返す。
func (h *ProxyHandler) readPayload(w http.ResponseWriter, r *http.Request) (backend.Payload, bool) {
	var p backend.Payload
	if err := decodeBody(w, r, &p); err != nil || p == nil {
		handleError(w, model.NewInvalidRequestError("request body must be a JSON object"))
		return nil, false
	}
	h.sanitizer.SanitizePayload(p)
	return p, true
}

// respond は結果またはエラーをレスポンスに書き込む。
func respond[T any](w http.ResponseWriter, statusCode int, v T, err error) {
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, statusCode, v)
}

func respondNoContent(w http.ResponseWriter, err error) {
	if err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- payerアカウント ---

// ListPayers GET /api/accounts/payers
func (h *ProxyHandler) ListPayers(w http.ResponseWriter, r *http.Request) {
	v, err := h.api.ListPayers(r.Context())
	respond(w, http.StatusOK, nonNil(v), err)
}

// GetPayer GET /api/accounts/payers/{id}
func (h *ProxyHandler) GetPayer(w http.ResponseWriter, r *http.Request) {
	v, err := h.api.GetPayer(r.Context(), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, v, err)
}

// CreatePayer POST /api/accounts/payers
func (h *ProxyHandler) CreatePayer(w http.ResponseWriter, r *http.Request) {
	p, ok := h.readPayload(w, r)
	if !ok {
		return
	}
	v, err := h.api.CreatePayer(r.Context(), p)
	respond(w, http.StatusCreated, v, err)
}

// UpdatePayer PUT /api/accounts/payers/{id}
func (h *ProxyHandler) UpdatePayer(w http.ResponseWriter, r *http.Request) {
	p, ok := h.readPayload(w, r)
	if !ok {
		return
	}
	v, err := h.api.UpdatePayer(r.Context(), chi.URLParam(r, "id"), p)
	respond(w, http.StatusOK, v, err)
}

// DeletePayer DELETE /api/accounts/payers/{id}
func (h *ProxyHandler) DeletePayer(w http.ResponseWriter, r *http.Request) {
	respondNoContent(w, h.api.DeletePayer(r.Context(), chi.URLParam(r, "id")))
}

// --- usageアカウント ---

// ListUsages GET /api/accounts/usages
func (h *ProxyHandler) ListUsages(w http.ResponseWriter, r *http.Request) {
	v, err := h.api.ListUsages(r.Context())
	respond(w, http.StatusOK, nonNil(v), err)
}

// GetUsage GET /api/accounts/usages/{id}
func (h *ProxyHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	v, err := h.api.GetUsage(r.Context(), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, v, err)
}

// CreateUsage POST /api/accounts/usages
func (h *ProxyHandler) CreateUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.readPayload(w, r)
	if !ok {
		return
	}
	v, err := h.api.CreateUsage(r.Context(), p)
	respond(w, http.StatusCreated, v, err)
}

// UpdateUsage PUT /api/accounts/usages/{id}
func (h *ProxyHandler) UpdateUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.readPayload(w, r)
	if !ok {
		return
	}
	v, err := h.api.UpdateUsage(r.Context(), chi.URLParam(r, "id"), p)
	respond(w, http.StatusOK, v, err)
}

// DeleteUsage DELETE /api/accounts/usages/{id}
func (h *ProxyHandler) DeleteUsage(w http.ResponseWriter, r *http.Request) {
	respondNoContent(w, h.api.DeleteUsage(r.Context(), chi.URLParam(r, "id")))
}

// --- 取引 ---

// ListTransactions GET /api/transactions
func (h *ProxyHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	v, err := h.api.ListTransactions(r.Context())
	respond(w, http.StatusOK, nonNil(v), err)
}

// ListTransactionsByPayer GET /api/transactions/{payerId}
func (h *ProxyHandler) ListTransactionsByPayer(w http.ResponseWriter, r *http.Request) {
	v, err := h.api.ListTransactionsByPayer(r.Context(), chi.URLParam(r, "payerId"))
	respond(w, http.StatusOK, nonNil(v), err)
}

// ListTransactionsByAccount GET /api/transactions/{payerId}/{accountId}
func (h *ProxyHandler) ListTransactionsByAccount(w http.ResponseWriter, r *http.Request) {
	v, err := h.api.ListTransactionsByAccount(r.Context(), chi.URLParam(r, "payerId"), chi.URLParam(r, "accountId"))
	respond(w, http.StatusOK, nonNil(v), err)
}

// GetTransaction GET /api/transactions/{payerId}/{accountId}/{txId}
func (h *ProxyHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	payerID, accountID, txID := transactionParams(r)
	v, err := h.api.GetTransaction(r.Context(), payerID, accountID, txID)
	respond(w, http.StatusOK, v, err)
}

// CreateTransaction POST /api/transactions
func (h *ProxyHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.readPayload(w, r)
	if !ok {
		return
	}
	v, err := h.api.CreateTransaction(r.Context(), p)
	respond(w, http.StatusCreated, v, err)
}

// UpdateTransaction PUT /api/transactions/{payerId}/{accountId}/{txId}
func (h *ProxyHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.readPayload(w, r)
	if !ok {
		return
	}
	payerID, accountID, txID := transactionParams(r)
	v, err := h.api.UpdateTransaction(r.Context(), payerID, accountID, txID, p)
	respond(w, http.StatusOK, v, err)
}

// DeleteTransaction DELETE /api/transactions/{payerId}/{accountId}/{txId}
func (h *ProxyHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	payerID, accountID, txID := transactionParams(r)
	respondNoContent(w, h.api.DeleteTransaction(r.Context(), payerID, accountID, txID))
}

func transactionParams(r *http.Request) (payerID, accountID, txID string) {
	return chi.URLParam(r, "payerId"), chi.URLParam(r, "accountId"), chi.URLParam(r, "txId")
}

// nonNil は空の一覧をnullではなく[]としてエンコードさせる。
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
