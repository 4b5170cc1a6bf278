package billing

import "github.com/hitoshi/billdash/internal/model"

type accountKey struct {
	kind model.AccountKind
	id   string
}

// FindUnregisteredAccounts は取引から参照されているが登録されていないアカウントを返す。
// 結果は取引中で最初に出現した順に並び、TransactionCountは参照回数を表す。
func FindUnregisteredAccounts(txs []model.Transaction, payers []model.PayerAccount, usages []model.UsageAccount) []model.UnregisteredAccount {
	registeredPayers := make(map[string]struct{}, len(payers))
	for _, p := range payers {
		if p.ID != "" {
			registeredPayers[p.ID] = struct{}{}
		}
	}
	registeredUsages := make(map[string]struct{}, len(usages))
	for _, u := range usages {
		if u.ID != "" {
			registeredUsages[u.ID] = struct{}{}
		}
	}

	index := make(map[accountKey]int)
	var out []model.UnregisteredAccount

	record := func(kind model.AccountKind, id string, registered map[string]struct{}) {
		if id == "" {
			return
		}
		if _, ok := registered[id]; ok {
			return
		}
		key := accountKey{kind: kind, id: id}
		if i, ok := index[key]; ok {
			out[i].TransactionCount++
			return
		}
		index[key] = len(out)
		out = append(out, model.UnregisteredAccount{ID: id, Kind: kind, TransactionCount: 1})
	}

	for _, tx := range txs {
		record(model.AccountPayer, tx.PayerAccountID, registeredPayers)
		record(model.AccountUsage, tx.UsageAccountID, registeredUsages)
	}
	return out
}
