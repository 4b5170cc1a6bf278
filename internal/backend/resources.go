package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/billdash/internal/model"
)

// Payload は作成・更新時にバックエンドへそのまま送るJSONオブジェクト。
type Payload map[string]any

// --- payerアカウント ---

// ListPayers はpayerアカウント一覧を取得する。
func (c *Client) ListPayers(ctx context.Context) ([]model.PayerAccount, error) {
	return list(ctx, c, "/accounts/payers", normalizePayer)
}

// GetPayer はpayerアカウントを1件取得する。
func (c *Client) GetPayer(ctx context.Context, id string) (model.PayerAccount, error) {
	return one(ctx, c, http.MethodGet, "/accounts/payers/"+url.PathEscape(id), nil, normalizePayer)
}

// CreatePayer はpayerアカウントを作成する。
func (c *Client) CreatePayer(ctx context.Context, p Payload) (model.PayerAccount, error) {
	return one(ctx, c, http.MethodPost, "/accounts/payers", p, normalizePayer)
}

// UpdatePayer はpayerアカウントを更新する。
func (c *Client) UpdatePayer(ctx context.Context, id string, p Payload) (model.PayerAccount, error) {
	return one(ctx, c, http.MethodPut, "/accounts/payers/"+url.PathEscape(id), p, normalizePayer)
}

// DeletePayer はpayerアカウントを削除する。
func (c *Client) DeletePayer(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/accounts/payers/"+url.PathEscape(id), nil)
	return err
}

// --- usageアカウント ---

// ListUsages はusageアカウント一覧を取得する。
func (c *Client) ListUsages(ctx context.Context) ([]model.UsageAccount, error) {
	return list(ctx, c, "/accounts/usages", normalizeUsage)
}

// GetUsage はusageアカウントを1件取得する。
func (c *Client) GetUsage(ctx context.Context, id string) (model.UsageAccount, error) {
	return one(ctx, c, http.MethodGet, "/accounts/usages/"+url.PathEscape(id), nil, normalizeUsage)
}

// CreateUsage はusageアカウントを作成する。
func (c *Client) CreateUsage(ctx context.Context, p Payload) (model.UsageAccount, error) {
	return one(ctx, c, http.MethodPost, "/accounts/usages", p, normalizeUsage)
}

// UpdateUsage はusageアカウントを更新する。
func (c *Client) UpdateUsage(ctx context.Context, id string, p Payload) (model.UsageAccount, error) {
	return one(ctx, c, http.MethodPut, "/accounts/usages/"+url.PathEscape(id), p, normalizeUsage)
}

// DeleteUsage はusageアカウントを削除する。
func (c *Client) DeleteUsage(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/accounts/usages/"+url.PathEscape(id), nil)
	return err
}

// --- 取引 ---

// ListTransactions は全取引を取得する。
func (c *Client) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	return list(ctx, c, "/transactions", normalizeTransaction)
}

// ListTransactionsByPayer はpayerアカウントの取引を取得する。
func (c *Client) ListTransactionsByPayer(ctx context.Context, payerID string) ([]model.Transaction, error) {
	return list(ctx, c, "/transactions/"+url.PathEscape(payerID), normalizeTransaction)
}

// ListTransactionsByAccount はpayerアカウント配下のusageアカウントの取引を取得する。
func (c *Client) ListTransactionsByAccount(ctx context.Context, payerID, accountID string) ([]model.Transaction, error) {
	return list(ctx, c, transactionPath(payerID, accountID), normalizeTransaction)
}

// GetTransaction は取引を1件取得する。
func (c *Client) GetTransaction(ctx context.Context, payerID, accountID, txID string) (model.Transaction, error) {
	return one(ctx, c, http.MethodGet, transactionPath(payerID, accountID, txID), nil, normalizeTransaction)
}

// CreateTransaction は取引を作成する。
func (c *Client) CreateTransaction(ctx context.Context, p Payload) (model.Transaction, error) {
	return one(ctx, c, http.MethodPost, "/transactions", p, normalizeTransaction)
}

// UpdateTransaction は取引を更新する。
func (c *Client) UpdateTransaction(ctx context.Context, payerID, accountID, txID string, p Payload) (model.Transaction, error) {
	return one(ctx, c, http.MethodPut, transactionPath(payerID, accountID, txID), p, normalizeTransaction)
}

// DeleteTransaction は取引を削除する。
func (c *Client) DeleteTransaction(ctx context.Context, payerID, accountID, txID string) error {
	_, err := c.do(ctx, http.MethodDelete, transactionPath(payerID, accountID, txID), nil)
	return err
}

func transactionPath(segments ...string) string {
	p := "/transactions"
	for _, s := range segments {
		p += "/" + url.PathEscape(s)
	}
	return p
}

func list[T any](ctx context.Context, c *Client, path string, normalize func(rawRecord) T) ([]T, error) {
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	records, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	return normalizeAll(records, normalize), nil
}

func one[T any](ctx context.Context, c *Client, method, path string, payload Payload, normalize func(rawRecord) T) (T, error) {
	var zero T
	var body any
	if payload != nil {
		body = payload
	}
	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return zero, err
	}
	record, err := decodeOne(raw)
	if err != nil {
		return zero, err
	}
	return normalize(record), nil
}
