package billing

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/billdash/internal/model"
)

// TopUsageLimit はusageランキングの既定件数。
const TopUsageLimit = 10

// monthNames はチャートの月ラベル。
var monthNames = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// MonthlyFlow は月ごとの入出金合計。
type MonthlyFlow struct {
	Month       string  `json:"month"`
	Deposits    float64 `json:"deposits"`
	Withdrawals float64 `json:"withdrawals"`
}

// MonthlyCost は月ごとのコスト（出金）合計。
type MonthlyCost struct {
	Month string  `json:"month"`
	Cost  float64 `json:"cost"`
}

// UsageTotal はusageアカウントごとの当年の出金合計。
type UsageTotal struct {
	AccountID string  `json:"accountId"`
	Name      string  `json:"name"`
	Total     float64 `json:"value"`
}

// round2 は小数第2位で四捨五入する。
func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func inYear(tx model.Transaction, now time.Time) bool {
	return !tx.Date.IsZero() && tx.Date.In(now.Location()).Year() == now.Year()
}

// MonthlyDepositWithdrawal はnowの年の入出金を月別に集計する。
// 取引のない月も0で埋め、必ず1月から12月の12件を返す。
func MonthlyDepositWithdrawal(txs []model.Transaction, now time.Time) []MonthlyFlow {
	var deposits, withdrawals [12]decimal.Decimal
	for _, tx := range txs {
		if !inYear(tx, now) {
			continue
		}
		m := tx.Date.In(now.Location()).Month() - 1
		switch tx.Type {
		case model.TransactionDeposit:
			deposits[m] = deposits[m].Add(decimal.NewFromFloat(tx.Amount))
		case model.TransactionWithdrawal:
			withdrawals[m] = withdrawals[m].Add(decimal.NewFromFloat(tx.Amount).Abs())
		}
	}

	out := make([]MonthlyFlow, 12)
	for i, name := range monthNames {
		out[i] = MonthlyFlow{
			Month:       name,
			Deposits:    round2(deposits[i]),
			Withdrawals: round2(withdrawals[i]),
		}
	}
	return out
}

// MonthlyCostSeries はnowの年の出金を月別に集計する。
func MonthlyCostSeries(txs []model.Transaction, now time.Time) []MonthlyCost {
	flows := MonthlyDepositWithdrawal(txs, now)
	out := make([]MonthlyCost, len(flows))
	for i, f := range flows {
		out[i] = MonthlyCost{Month: f.Month, Cost: f.Withdrawals}
	}
	return out
}

// TopUsage は当年の出金合計が大きいusageアカウントを最大n件返す。
// 合計が0以下のアカウントは除外し、同額の場合はusagesの並び順を保つ。
func TopUsage(txs []model.Transaction, usages []model.UsageAccount, now time.Time, n int) []UsageTotal {
	totals := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if tx.Type != model.TransactionWithdrawal || tx.UsageAccountID == "" || !inYear(tx, now) {
			continue
		}
		totals[tx.UsageAccountID] = totals[tx.UsageAccountID].Add(decimal.NewFromFloat(tx.Amount))
	}

	ranked := make([]UsageTotal, 0, len(usages))
	for _, u := range usages {
		total, ok := totals[u.ID]
		if !ok || !total.IsPositive() {
			continue
		}
		name := u.CustomerName
		if name == "" {
			name = "Unknown"
		}
		ranked = append(ranked, UsageTotal{AccountID: u.ID, Name: name, Total: round2(total)})
	}

	slices.SortStableFunc(ranked, func(a, b UsageTotal) int {
		return cmp.Compare(b.Total, a.Total)
	})

	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// LatestTransactions は日付の新しい順に最大n件の取引を返す。
// 同日の取引は入力順を保つ。元のスライスは変更しない。
func LatestTransactions(txs []model.Transaction, n int) []model.Transaction {
	sorted := slices.Clone(txs)
	slices.SortStableFunc(sorted, func(a, b model.Transaction) int {
		return b.Date.Compare(a.Date)
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
