package handler

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/billdash/internal/billing"
	"github.com/hitoshi/billdash/internal/model"
)

// latestTransactionsLimit はダッシュボードに表示する直近取引の件数。
const latestTransactionsLimit = 5

// DashboardHandler はバックエンドの一覧データを集計して返すハンドラー。
type DashboardHandler struct {
	api BillingAPI
	now func() time.Time
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(api BillingAPI) *DashboardHandler {
	return &DashboardHandler{api: api, now: time.Now}
}

// dashboardResponse はGET /api/dashboardのレスポンス。
type dashboardResponse struct {
	MonthlyCost        []billing.MonthlyCost `json:"monthlyCost"`
	MonthlyFlow        []billing.MonthlyFlow `json:"monthlyFlow"`
	TopUsage           []billing.UsageTotal  `json:"topUsage"`
	LatestTransactions []model.Transaction   `json:"latestTransactions"`
	PayerCount         int                   `json:"payerCount"`
	UsageCount         int                   `json:"usageCount"`
}

// Dashboard GET /api/dashboard
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.api.Snapshot(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	now := h.now()
	writeJSON(w, http.StatusOK, dashboardResponse{
		MonthlyCost:        billing.MonthlyCostSeries(snap.Transactions, now),
		MonthlyFlow:        billing.MonthlyDepositWithdrawal(snap.Transactions, now),
		TopUsage:           nonNil(billing.TopUsage(snap.Transactions, snap.Usages, now, billing.TopUsageLimit)),
		LatestTransactions: nonNil(billing.LatestTransactions(snap.Transactions, latestTransactionsLimit)),
		PayerCount:         len(snap.Payers),
		UsageCount:         len(snap.Usages),
	})
}

// Unregistered GET /api/accounts/unregistered
func (h *DashboardHandler) Unregistered(w http.ResponseWriter, r *http.Request) {
	snap, err := h.api.Snapshot(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(billing.FindUnregisteredAccounts(snap.Transactions, snap.Payers, snap.Usages)))
}

// accountMetricsResponse はGET /api/accounts/{kind}/{id}/metricsのレスポンス。
type accountMetricsResponse struct {
	AccountID string            `json:"accountId"`
	Kind      model.AccountKind `json:"kind"`
	billing.AccountMetrics
	Totals billing.Totals `json:"totals"`
}

// AccountMetrics GET /api/accounts/{kind}/{id}/metrics[?budget=]
// budgetが指定されない場合は年初来の入金額を予算として扱う。
func (h *DashboardHandler) AccountMetrics(w http.ResponseWriter, r *http.Request) {
	kindParam := chi.URLParam(r, "kind")
	kind, ok := model.ParseAccountKind(kindParam)
	if !ok {
		handleError(w, model.NewInvalidAccountKindError(kindParam))
		return
	}
	accountID := chi.URLParam(r, "id")

	var budget *float64
	if raw := r.URL.Query().Get("budget"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			handleError(w, model.NewInvalidRequestError("budget must be a number"))
			return
		}
		if v < 0 {
			handleError(w, model.NewInvalidRequestError("budget must not be negative"))
			return
		}
		budget = &v
	}

	var (
		txs []model.Transaction
		err error
	)
	if kind == model.AccountPayer {
		txs, err = h.api.ListTransactionsByPayer(r.Context(), accountID)
	} else {
		txs, err = h.api.ListTransactions(r.Context())
	}
	if err != nil {
		handleError(w, err)
		return
	}

	owned := make([]model.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.AccountID(kind) == accountID {
			owned = append(owned, tx)
		}
	}

	writeJSON(w, http.StatusOK, accountMetricsResponse{
		AccountID:      accountID,
		Kind:           kind,
		AccountMetrics: billing.GetAccountMetrics(owned, accountID, kind, budget, h.now()),
		Totals:         billing.AccountTotals(owned),
	})
}
