// Package backend は請求管理REST APIのクライアントを提供する。
// レスポンスは境界で正規化し、以降の処理は正規化済みのモデルのみを扱う。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/billdash/internal/metrics"
	"github.com/hitoshi/billdash/internal/model"
)

// Client はバックエンドREST APIのクライアント。
// リトライは行わず、タイムアウトは呼び出し元のcontextに従う。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	baseURL    string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLにはステージを含むAPIのルートURLを指定する。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, m metrics.MetricsCollector) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// do はAPIリクエストを実行し、エンベロープを外したJSONを返す。
// 2xx以外は*model.BackendErrorを返す。ボディが空の場合はnilを返す。
func (c *Client) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordBackendLatency(time.Since(start))
	if err != nil {
		c.logger.Error("バックエンドAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.RecordBackendStatus(resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("バックエンドAPIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &model.BackendError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       string(respBody),
		}
	}

	return unwrapEnvelope(respBody)
}

// unwrapEnvelope はトップレベルがdataキーを持つオブジェクトならその値を、
// それ以外は値そのものを返す。
func unwrapEnvelope(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました")
	}

	if trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
		}
		if data, ok := envelope["data"]; ok {
			return data, nil
		}
	}
	return json.RawMessage(trimmed), nil
}

// decodeList はJSON配列を生レコードの一覧にデコードする。nullは空として扱う。
func decodeList(raw json.RawMessage) ([]rawRecord, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var records []rawRecord
	if err := decodeJSON(raw, &records); err != nil {
		return nil, fmt.Errorf("一覧レスポンスのパースに失敗しました: %w", err)
	}
	return records, nil
}

// decodeOne はJSONオブジェクトを生レコードにデコードする。
func decodeOne(raw json.RawMessage) (rawRecord, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return rawRecord{}, nil
	}
	var record rawRecord
	if err := decodeJSON(raw, &record); err != nil {
		return nil, fmt.Errorf("レスポンスのパースに失敗しました: %w", err)
	}
	return record, nil
}

func decodeJSON(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
