package backend

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/billdash/internal/model"
)

// Snapshot はダッシュボード集計に必要なデータ一式。
type Snapshot struct {
	Payers       []model.PayerAccount
	Usages       []model.UsageAccount
	Transactions []model.Transaction
}

// Snapshot はpayer・usage・取引の一覧を並行に取得する。
// いずれかが失敗した場合は最初のエラーを返す。
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		payers, err := c.ListPayers(gctx)
		snap.Payers = payers
		return err
	})
	g.Go(func() error {
		usages, err := c.ListUsages(gctx)
		snap.Usages = usages
		return err
	})
	g.Go(func() error {
		txs, err := c.ListTransactions(gctx)
		snap.Transactions = txs
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}
