package model

import "time"

// TransactionType は取引の方向を表す。
type TransactionType string

const (
	// TransactionDeposit は予算への入金。
	TransactionDeposit TransactionType = "DEPOSIT"
	// TransactionWithdrawal はコストとしての出金。
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
)

// AccountKind はアカウント種別（payer / usage）を表す。
type AccountKind string

const (
	AccountPayer AccountKind = "payer"
	AccountUsage AccountKind = "usage"
)

// ParseAccountKind は文字列をAccountKindに変換する。
func ParseAccountKind(s string) (AccountKind, bool) {
	switch AccountKind(s) {
	case AccountPayer:
		return AccountPayer, true
	case AccountUsage:
		return AccountUsage, true
	default:
		return "", false
	}
}

// PayerAccount は1つ以上のusageアカウントの費用を負担するAWS請求アカウント。
type PayerAccount struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	YearlyBudget *float64  `json:"yearlyBudget,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
}

// UsageAccount はpayerアカウントの予算に対して課金されるAWSアカウント。
type UsageAccount struct {
	ID             string    `json:"id"`
	PayerAccountID string    `json:"payerAccountId"`
	CustomerName   string    `json:"customerName"`
	PIVA           string    `json:"piva,omitempty"`
	YearlyBudget   *float64  `json:"yearlyBudget,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}

// Transaction はバックエンドから取得する取引レコード。
// Amountは常に非負の大きさで、方向はTypeで表す。
type Transaction struct {
	ID             string          `json:"id"`
	PayerAccountID string          `json:"payerAccountId"`
	UsageAccountID string          `json:"usageAccountId"`
	Type           TransactionType `json:"type"`
	Date           time.Time       `json:"date,omitzero"`
	Amount         float64         `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	Description    string          `json:"description,omitempty"`
	InvoiceID      string          `json:"invoiceId,omitempty"`
	BillingPeriod  string          `json:"billingPeriod,omitempty"`
	CreatedAt      time.Time       `json:"createdAt,omitzero"`
}

// AccountID は指定種別のアカウントIDを返す。
func (t Transaction) AccountID(kind AccountKind) string {
	if kind == AccountPayer {
		return t.PayerAccountID
	}
	return t.UsageAccountID
}

// UnregisteredAccount は取引から参照されているが登録されていないアカウント。
// 永続化されず、集計のたびに再計算される。
type UnregisteredAccount struct {
	ID               string      `json:"id"`
	Kind             AccountKind `json:"type"`
	TransactionCount int         `json:"transactionCount"`
}
