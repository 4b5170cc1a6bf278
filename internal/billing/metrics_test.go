package billing

import (
	"testing"
	"time"

	"github.com/hitoshi/billdash/internal/model"
)

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(f float64) *float64 { return &f }

func deposit(payer, usage string, amount float64, date time.Time) model.Transaction {
	return model.Transaction{PayerAccountID: payer, UsageAccountID: usage, Type: model.TransactionDeposit, Amount: amount, Date: date}
}

func withdrawal(payer, usage string, amount float64, date time.Time) model.Transaction {
	return model.Transaction{PayerAccountID: payer, UsageAccountID: usage, Type: model.TransactionWithdrawal, Amount: amount, Date: date}
}

func TestGetAccountMetrics_DepositAndWithdrawalScenario(t *testing.T) {
	txs := []model.Transaction{
		deposit("p1", "u1", 100, day(2025, 1, 5)),
		withdrawal("p1", "u1", 40, day(2025, 1, 10)),
	}

	if got := CalculateYTDBudget(txs, "u1", model.AccountUsage, testNow); got != 100 {
		t.Errorf("YTD budget = %v, want 100", got)
	}
	if got := CalculateYTDCost(txs, "u1", model.AccountUsage, testNow); got != 40 {
		t.Errorf("YTD cost = %v, want 40", got)
	}

	m := GetAccountMetrics(txs, "u1", model.AccountUsage, nil, testNow)
	if m.Percentage == nil {
		t.Fatal("percentage should not be nil")
	}
	if *m.Percentage != 40.0 {
		t.Errorf("percentage = %v, want 40", *m.Percentage)
	}
	if m.MTDCost != 0 {
		t.Errorf("MTD cost = %v, want 0 (no March withdrawals)", m.MTDCost)
	}
}

func TestGetAccountMetrics_ExplicitBudgetOverridesDeposits(t *testing.T) {
	txs := []model.Transaction{
		deposit("p1", "u1", 100, day(2025, 1, 5)),
		withdrawal("p1", "u1", 50, day(2025, 3, 1)),
	}

	m := GetAccountMetrics(txs, "p1", model.AccountPayer, ptr(200), testNow)
	if m.Percentage == nil || *m.Percentage != 25 {
		t.Errorf("percentage = %v, want 25", m.Percentage)
	}
	if m.MTDCost != 50 {
		t.Errorf("MTD cost = %v, want 50", m.MTDCost)
	}
}

func TestGetAccountMetrics_NoDepositsMeansNoBudget(t *testing.T) {
	txs := []model.Transaction{withdrawal("p1", "u1", 10, day(2025, 2, 1))}

	m := GetAccountMetrics(txs, "u1", model.AccountUsage, nil, testNow)
	if m.Percentage != nil {
		t.Errorf("percentage = %v, want nil", *m.Percentage)
	}
	if m.YTDCost != 10 {
		t.Errorf("YTD cost = %v, want 10", m.YTDCost)
	}
}

func TestCalculateCosts_Windows(t *testing.T) {
	txs := []model.Transaction{
		withdrawal("p1", "u1", 1, day(2024, 12, 31)),                           // 前年
		withdrawal("p1", "u1", 2, day(2025, 1, 1)),                             // 年初
		withdrawal("p1", "u1", 4, day(2025, 3, 1)),                             // 月初
		withdrawal("p1", "u1", 8, testNow),                                     // 現在時刻ちょうど
		withdrawal("p1", "u1", 16, testNow.Add(time.Hour)),                     // 未来
		withdrawal("p1", "u2", 32, day(2025, 3, 2)),                            // 別アカウント
		deposit("p1", "u1", 64, day(2025, 3, 3)),                               // 入金
		{UsageAccountID: "u1", Type: model.TransactionWithdrawal, Amount: 128}, // 日付なし
	}

	if got := CalculateYTDCost(txs, "u1", model.AccountUsage, testNow); got != 14 {
		t.Errorf("YTD cost = %v, want 14", got)
	}
	if got := CalculateMTDCost(txs, "u1", model.AccountUsage, testNow); got != 12 {
		t.Errorf("MTD cost = %v, want 12", got)
	}
	if got := CalculateYTDCost(txs, "p1", model.AccountPayer, testNow); got != 46 {
		t.Errorf("payer YTD cost = %v, want 46", got)
	}
}

func TestCalculateYTDCost_MonotonicInWithdrawals(t *testing.T) {
	var txs []model.Transaction
	prev := 0.0
	for i := 1; i <= 20; i++ {
		txs = append(txs, withdrawal("p1", "u1", float64(i)*0.7, day(2025, time.Month(i%3+1), i)))
		got := CalculateYTDCost(txs, "u1", model.AccountUsage, testNow)
		if got < prev {
			t.Fatalf("YTD cost decreased after adding withdrawal %d: %v < %v", i, got, prev)
		}
		prev = got
	}
}

func TestCostVsBudgetPercentage(t *testing.T) {
	tests := []struct {
		name   string
		actual float64
		budget *float64
		want   float64
		wantOK bool
	}{
		{"nil budget", 10, nil, 0, false},
		{"zero budget", 10, ptr(0), 0, false},
		{"half", 50, ptr(100), 50, true},
		{"over budget is not clamped", 150, ptr(100), 150, true},
		{"no cost", 0, ptr(100), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CostVsBudgetPercentage(tt.actual, tt.budget)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("got (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAccountTotals(t *testing.T) {
	tests := []struct {
		name string
		txs  []model.Transaction
		want Totals
	}{
		{
			name: "empty",
			want: Totals{},
		},
		{
			name: "within budget",
			txs: []model.Transaction{
				deposit("p1", "u1", 200, day(2024, 6, 1)),
				withdrawal("p1", "u1", 50, day(2025, 1, 1)),
			},
			want: Totals{Deposits: 200, Withdrawals: 50, CostPercentage: 25},
		},
		{
			name: "over budget clamps percentage",
			txs: []model.Transaction{
				deposit("p1", "u1", 100, day(2025, 1, 1)),
				withdrawal("p1", "u1", 150, day(2025, 2, 1)),
			},
			want: Totals{Deposits: 100, Withdrawals: 150, CostPercentage: 100, OverBudget: true},
		},
		{
			name: "withdrawals without deposits",
			txs:  []model.Transaction{withdrawal("p1", "u1", 10, day(2025, 1, 1))},
			want: Totals{Withdrawals: 10, OverBudget: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AccountTotals(tt.txs); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
