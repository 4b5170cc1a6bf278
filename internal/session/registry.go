package session

import (
	"context"
	"sync"

	"github.com/hitoshi/billdash/internal/model"
)

type registryEntry struct {
	session *Session
	once    sync.Once
	// 初回Restoreの結果。その呼び出し元にのみ返す
	err error
}

// Registry はプロセス内のSessionをbrowser_idごとに保持する。
// 初回アクセス時にストアから復元する。
type Registry struct {
	deps Deps

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry はRegistryを生成する。
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:    deps,
		entries: make(map[string]*registryEntry),
	}
}

// Get はbrowser_idに対応するSessionを返す。
// 初回アクセス時はRestoreを1回だけ実行し、その失敗をerrとして返す。
// 2回目以降は有効期限切れの認証済みセッションをリフレッシュする。
// errが非nilでもSessionは匿名または期限切れ状態として利用できる。
func (r *Registry) Get(ctx context.Context, browserID string) (*Session, error) {
	r.mu.Lock()
	e, ok := r.entries[browserID]
	if !ok {
		e = &registryEntry{session: New(browserID, r.deps)}
		r.entries[browserID] = e
	}
	r.mu.Unlock()

	restored := false
	e.once.Do(func() {
		restored = true
		e.err = e.session.Restore(ctx)
	})
	if restored {
		return e.session, e.err
	}

	if _, err := e.session.RefreshIfExpired(ctx); err != nil {
		return e.session, err
	}
	return e.session, nil
}

// Sessions は保持しているSessionのスナップショットを返す。
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session)
	}
	return out
}

// Len は保持しているSession数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Forget は指定browser_idのSessionを破棄する。ストアの内容には触れない。
func (r *Registry) Forget(browserID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, browserID)
}

// Prune は匿名または期限切れのSessionを破棄し、破棄した数を返す。
// 次回アクセス時にはストアから復元し直す。
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		switch e.session.State() {
		case model.SessionAnonymous, model.SessionExpired:
			delete(r.entries, id)
			n++
		}
	}
	return n
}
