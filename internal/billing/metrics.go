// Package billing は取引データからダッシュボード用の集計値を算出する。
// すべて純粋関数で、現在時刻は引数nowで受け取る。
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/billdash/internal/model"
)

// AccountMetrics はアカウント単位のコスト指標。
// Percentageがnilの場合は「予算未設定」を表す。
type AccountMetrics struct {
	YTDCost    float64  `json:"ytdCost"`
	MTDCost    float64  `json:"mtdCost"`
	Percentage *float64 `json:"percentage"`
}

// Totals はアカウント詳細ページの全期間集計。
// CostPercentageは表示用に100で頭打ちにし、超過はOverBudgetで表す。
type Totals struct {
	Deposits       float64 `json:"totalDeposits"`
	Withdrawals    float64 `json:"totalWithdrawals"`
	CostPercentage float64 `json:"costPercentage"`
	OverBudget     bool    `json:"isOverBudget"`
}

func startOfYear(now time.Time) time.Time {
	return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
}

func startOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

// sumWindow は指定アカウント・種別・期間[from, now]の取引金額を合計する。
func sumWindow(txs []model.Transaction, accountID string, kind model.AccountKind, typ model.TransactionType, from, now time.Time) float64 {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.AccountID(kind) != accountID || tx.Type != typ {
			continue
		}
		if tx.Date.Before(from) || tx.Date.After(now) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(tx.Amount))
	}
	return total.InexactFloat64()
}

// CalculateYTDCost は年初からnowまでの出金合計を返す。
func CalculateYTDCost(txs []model.Transaction, accountID string, kind model.AccountKind, now time.Time) float64 {
	return sumWindow(txs, accountID, kind, model.TransactionWithdrawal, startOfYear(now), now)
}

// CalculateMTDCost は月初からnowまでの出金合計を返す。
func CalculateMTDCost(txs []model.Transaction, accountID string, kind model.AccountKind, now time.Time) float64 {
	return sumWindow(txs, accountID, kind, model.TransactionWithdrawal, startOfMonth(now), now)
}

// CalculateYTDBudget は年初からnowまでの入金合計を返す。
func CalculateYTDBudget(txs []model.Transaction, accountID string, kind model.AccountKind, now time.Time) float64 {
	return sumWindow(txs, accountID, kind, model.TransactionDeposit, startOfYear(now), now)
}

// CostVsBudgetPercentage はコストの予算比（%）を返す。
// 予算がnilまたは0の場合はfalseを返す。100を超える値もそのまま返す。
func CostVsBudgetPercentage(actual float64, budget *float64) (float64, bool) {
	if budget == nil || *budget == 0 {
		return 0, false
	}
	return actual / *budget * 100, true
}

// GetAccountMetrics はアカウントのYTD/MTDコストと予算比を算出する。
// explicitBudgetがnilの場合はYTDの入金合計を予算として使う。
func GetAccountMetrics(txs []model.Transaction, accountID string, kind model.AccountKind, explicitBudget *float64, now time.Time) AccountMetrics {
	ytd := CalculateYTDCost(txs, accountID, kind, now)
	mtd := CalculateMTDCost(txs, accountID, kind, now)

	budget := explicitBudget
	if budget == nil {
		b := CalculateYTDBudget(txs, accountID, kind, now)
		budget = &b
	}

	m := AccountMetrics{YTDCost: ytd, MTDCost: mtd}
	if pct, ok := CostVsBudgetPercentage(ytd, budget); ok {
		m.Percentage = &pct
	}
	return m
}

// AccountTotals は渡された取引の全期間の入出金合計を算出する。
// 入金が0の場合、CostPercentageは0になる。
func AccountTotals(txs []model.Transaction) Totals {
	deposits, withdrawals := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case model.TransactionDeposit:
			deposits = deposits.Add(decimal.NewFromFloat(tx.Amount))
		case model.TransactionWithdrawal:
			withdrawals = withdrawals.Add(decimal.NewFromFloat(tx.Amount))
		}
	}

	t := Totals{
		Deposits:    deposits.InexactFloat64(),
		Withdrawals: withdrawals.InexactFloat64(),
		OverBudget:  withdrawals.GreaterThan(deposits),
	}
	if deposits.IsPositive() {
		t.CostPercentage = min(withdrawals.Div(deposits).Mul(decimal.NewFromInt(100)).InexactFloat64(), 100)
	}
	return t
}
