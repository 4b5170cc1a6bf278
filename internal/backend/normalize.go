package backend

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/billdash/internal/model"
)

// rawRecord はバックエンドから受け取った正規化前のJSONオブジェクト。
type rawRecord map[string]any

// フィールドごとの別名表。先頭が現行の名前で、以降は旧形式の名前を優先順に並べる。
var (
	payerIDKeys        = []string{"PayerAccountId", "id"}
	payerNameKeys      = []string{"PayerAccountName", "name", "customerName"}
	usageIDKeys        = []string{"UsageAccountId", "accountId", "id"}
	usagePayerKeys     = []string{"PayerAccountId", "payerId"}
	customerNameKeys   = []string{"CustomerName", "name"}
	pivaKeys           = []string{"PIVA", "piva"}
	budgetKeys         = []string{"YearlyBudget", "yearlyBudget"}
	createdAtKeys      = []string{"CreatedAt", "createdAt"}
	updatedAtKeys      = []string{"UpdatedAt", "updatedAt"}
	txIDKeys           = []string{"TransactionId", "id"}
	txPayerKeys        = []string{"PayerAccountId", "payerId"}
	txUsageKeys        = []string{"UsageAccountId", "accountId"}
	txTypeKeys         = []string{"TransactionType", "type"}
	txDateKeys         = []string{"TransactionDate", "date", "Timestamp"}
	txAmountKeys       = []string{"Amount", "amount"}
	txCurrencyKeys     = []string{"Currency", "currency"}
	txDescriptionKeys  = []string{"Description", "description"}
	txInvoiceKeys      = []string{"InvoiceId", "invoiceId"}
	txBillingPeriodKey = []string{"BillingPeriod", "billingPeriod"}
)

// resolveFirst はkeysを順に調べ、最初に存在する値を返す。
// nullと空文字列は存在しないものとして扱う。
func resolveFirst(raw rawRecord, keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func resolveString(raw rawRecord, keys ...string) string {
	v, ok := resolveFirst(raw, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func resolveNumber(raw rawRecord, keys ...string) (float64, bool) {
	v, ok := resolveFirst(raw, keys...)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func resolveNumberPtr(raw rawRecord, keys ...string) *float64 {
	f, ok := resolveNumber(raw, keys...)
	if !ok {
		return nil
	}
	return &f
}

// dateLayouts はバックエンドが返す日付表現。
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func resolveTime(raw rawRecord, keys ...string) time.Time {
	s := resolveString(raw, keys...)
	if s == "" {
		return time.Time{}
	}
	t, _ := ParseDate(s)
	return t
}

// ParseDate は日付文字列を解釈する。タイムゾーンのない表現はUTCとして扱う。
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizePayer(raw rawRecord) model.PayerAccount {
	return model.PayerAccount{
		ID:           resolveString(raw, payerIDKeys...),
		Name:         resolveString(raw, payerNameKeys...),
		YearlyBudget: resolveNumberPtr(raw, budgetKeys...),
		CreatedAt:    resolveTime(raw, createdAtKeys...),
		UpdatedAt:    resolveTime(raw, updatedAtKeys...),
	}
}

func normalizeUsage(raw rawRecord) model.UsageAccount {
	return model.UsageAccount{
		ID:             resolveString(raw, usageIDKeys...),
		PayerAccountID: resolveString(raw, usagePayerKeys...),
		CustomerName:   resolveString(raw, customerNameKeys...),
		PIVA:           resolveString(raw, pivaKeys...),
		YearlyBudget:   resolveNumberPtr(raw, budgetKeys...),
		CreatedAt:      resolveTime(raw, createdAtKeys...),
		UpdatedAt:      resolveTime(raw, updatedAtKeys...),
	}
}

// normalizeTransaction は取引を正規化する。
// 種別は大文字に揃え、金額は負の値が来ても絶対値にする。
func normalizeTransaction(raw rawRecord) model.Transaction {
	amount, _ := resolveNumber(raw, txAmountKeys...)
	return model.Transaction{
		ID:             resolveString(raw, txIDKeys...),
		PayerAccountID: resolveString(raw, txPayerKeys...),
		UsageAccountID: resolveString(raw, txUsageKeys...),
		Type:           model.TransactionType(strings.ToUpper(resolveString(raw, txTypeKeys...))),
		Date:           resolveTime(raw, txDateKeys...),
		Amount:         math.Abs(amount),
		Currency:       resolveString(raw, txCurrencyKeys...),
		Description:    resolveString(raw, txDescriptionKeys...),
		InvoiceID:      resolveString(raw, txInvoiceKeys...),
		BillingPeriod:  resolveString(raw, txBillingPeriodKey...),
		CreatedAt:      resolveTime(raw, createdAtKeys...),
	}
}

func normalizeAll[T any](records []rawRecord, fn func(rawRecord) T) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		out = append(out, fn(r))
	}
	return out
}
