// Package session はブラウザ単位の認証セッションのライフサイクルを管理する。
//
// 1つのSessionは1つのbrowser_idに対応し、トークンは永続化ストアの2つのキー
// (auth_tokens, auth_token_expiry) に保存する。サインアウトのたびに世代番号を
// 進め、進行中のリフレッシュが古い世代のままストアへ書き込むことを防ぐ。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/billdash/internal/auth"
	"github.com/hitoshi/billdash/internal/metrics"
	"github.com/hitoshi/billdash/internal/model"
	"github.com/hitoshi/billdash/internal/repository"
)

// 永続化ストアのキー
const (
	TokensKey = "auth_tokens"
	ExpiryKey = "auth_token_expiry"
)

// RefreshLeadTime は有効期限のどれだけ前からリフレッシュを行うか。
const RefreshLeadTime = 5 * time.Minute

// MissingCodeMessage は認可コードなしでコールバックされた場合のメッセージ。
const MissingCodeMessage = "No authorization code received"

// CallbackError はIdPからのリダイレクトが失敗を示していたことを表す。
// Reasonはerror_description（なければerror）をそのまま保持する。
type CallbackError struct {
	Reason string
}

func (e *CallbackError) Error() string {
	return e.Reason
}

// Deps はSessionの依存コンポーネント。
type Deps struct {
	IdP     auth.IdentityProvider
	Store   repository.TokenStore
	Metrics metrics.MetricsCollector
	Now     func() time.Time
}

// Session は1ブラウザ分の認証状態を保持する。
// 複数のHTTPリクエストとリフレッシュスケジューラから並行に呼び出される。
type Session struct {
	browserID string
	idp       auth.IdentityProvider
	store     repository.TokenStore
	metrics   metrics.MetricsCollector
	now       func() time.Time

	mu         sync.Mutex
	state      model.SessionState
	user       *model.UserIdentity
	generation uint64
	refreshing bool
}

// New は匿名状態のSessionを生成する。ストアからの復元はRestoreで行う。
func New(browserID string, deps Deps) *Session {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Session{
		browserID: browserID,
		idp:       deps.IdP,
		store:     deps.Store,
		metrics:   deps.Metrics,
		now:       deps.Now,
		state:     model.SessionAnonymous,
	}
}

// BrowserID はセッションに対応するbrowser_idを返す。
func (s *Session) BrowserID() string {
	return s.browserID
}

// State は現在の状態を返す。
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User は認証済みユーザーの情報を返す。未認証の場合はnilを返す。
func (s *Session) User() *model.UserIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Authenticated は認証済みかどうかを返す。
// リフレッシュ中も直前のユーザー情報が有効なため認証済みとして扱う。
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil && (s.state == model.SessionAuthenticated || s.state == model.SessionRefreshing)
}

// Restore はストアに保存されたトークンからセッションを復元する。
// トークンがなければ匿名のまま、期限切れなら即座にリフレッシュ、
// それ以外はユーザー情報を取得して認証済みにする。
// 復元に失敗した場合は保存データを削除する。
func (s *Session) Restore(ctx context.Context) error {
	ctx = detach(ctx)

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	tokens, ok, err := s.loadTokens(ctx)
	if err != nil {
		s.discard(ctx, gen)
		return fmt.Errorf("failed to load tokens: %w", err)
	}
	if !ok {
		return nil
	}

	if expiry, ok := s.loadExpiry(ctx); ok && !s.now().Before(expiry) {
		slog.Info("stored tokens expired, refreshing", slog.String("browser_id", s.browserID))
		return s.Refresh(ctx)
	}

	user, err := s.idp.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		slog.Warn("failed to restore session from storage",
			slog.String("browser_id", s.browserID),
			slog.String("error", err.Error()),
		)
		s.discard(ctx, gen)
		return err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.user = user
		s.state = model.SessionAuthenticated
	}
	s.mu.Unlock()
	return nil
}

// HandleCallback はホストUIからのリダイレクトのクエリを処理する。
// errorパラメータがあればその説明をそのまま返し、
// 認可コードがあればトークンに交換してサインインする。
func (s *Session) HandleCallback(ctx context.Context, query url.Values) error {
	if e := query.Get("error"); e != "" {
		reason := query.Get("error_description")
		if reason == "" {
			reason = e
		}
		s.metrics.RecordSignIn("callback", false)
		return &CallbackError{Reason: reason}
	}

	code := query.Get("code")
	if code == "" {
		s.metrics.RecordSignIn("callback", false)
		return &CallbackError{Reason: MissingCodeMessage}
	}

	ctx = detach(ctx)
	gen := s.beginAuthenticating()

	tokens, err := s.idp.ExchangeCode(ctx, code)
	if err != nil {
		s.failAuthenticating(gen)
		s.metrics.RecordSignIn("callback", false)
		return err
	}

	err = s.SignIn(ctx, tokens)
	s.metrics.RecordSignIn("callback", err == nil)
	return err
}

// SignInWithPassword はメールアドレスとパスワードで直接サインインする。
// IdPの拒否は*model.CredentialErrorとして返す。
func (s *Session) SignInWithPassword(ctx context.Context, email, password string) error {
	ctx = detach(ctx)
	gen := s.beginAuthenticating()

	tokens, err := s.idp.SignIn(ctx, email, password)
	if err != nil {
		s.failAuthenticating(gen)
		s.metrics.RecordSignIn("password", false)
		return err
	}

	err = s.SignIn(ctx, tokens)
	s.metrics.RecordSignIn("password", err == nil)
	return err
}

// SignIn はトークンと有効期限を保存し、ユーザー情報を取得して認証済みにする。
// 失敗した場合は保存データを削除して匿名に戻る。
func (s *Session) SignIn(ctx context.Context, tokens *model.TokenSet) error {
	ctx = detach(ctx)

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = model.SessionAuthenticating
	s.user = nil
	s.mu.Unlock()

	if err := s.persist(ctx, tokens); err != nil {
		s.discard(ctx, gen)
		return err
	}

	user, err := s.idp.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		slog.Warn("failed to get user after sign in",
			slog.String("browser_id", s.browserID),
			slog.String("error", err.Error()),
		)
		s.discard(ctx, gen)
		return err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.user = user
		s.state = model.SessionAuthenticated
	}
	s.mu.Unlock()

	slog.Info("user signed in",
		slog.String("browser_id", s.browserID),
		slog.String("username", user.Username),
	)
	return nil
}

// CheckExpiry は有効期限が迫っている場合にリフレッシュを行う。
// 残り時間が0より大きくRefreshLeadTime未満のときのみ実行し、実行したかどうかを返す。
// 既に期限切れの場合は何もしない（RestoreとRefreshIfExpiredが扱う）。
func (s *Session) CheckExpiry(ctx context.Context) (bool, error) {
	expiry, ok := s.activeExpiry(ctx)
	if !ok {
		return false, nil
	}
	remaining := expiry.Sub(s.now())
	if remaining <= 0 || remaining >= RefreshLeadTime {
		return false, nil
	}
	return true, s.Refresh(ctx)
}

// RefreshIfExpired は認証済みセッションの有効期限が既に過ぎている場合のみ
// リフレッシュを行う。定期チェックを取りこぼしたセッションをリクエスト時に回復させる。
func (s *Session) RefreshIfExpired(ctx context.Context) (bool, error) {
	expiry, ok := s.activeExpiry(ctx)
	if !ok || s.now().Before(expiry) {
		return false, nil
	}
	return true, s.Refresh(ctx)
}

// activeExpiry はリフレッシュ中でない認証済みセッションの有効期限を返す。
func (s *Session) activeExpiry(ctx context.Context) (time.Time, bool) {
	s.mu.Lock()
	active := s.state == model.SessionAuthenticated && !s.refreshing
	s.mu.Unlock()
	if !active {
		return time.Time{}, false
	}
	return s.loadExpiry(ctx)
}

// Refresh はストアに保存されたリフレッシュトークンでトークンを更新する。
// 失敗はすべて回復不能として扱い、強制的にサインアウトして
// *model.SessionExpiredErrorを返す。
func (s *Session) Refresh(ctx context.Context) error {
	ctx = detach(ctx)

	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		return nil
	}
	s.refreshing = true
	s.state = model.SessionRefreshing
	gen := s.generation
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.mu.Unlock()
	}()

	// メモリ上のコピーではなく、常にストアの最新値を使う
	current, ok, err := s.loadTokens(ctx)
	if err != nil {
		return s.expire(ctx, gen, fmt.Errorf("failed to load tokens: %w", err))
	}
	if !ok {
		s.mu.Lock()
		if s.generation == gen {
			s.state = model.SessionAnonymous
			s.user = nil
		}
		s.mu.Unlock()
		return nil
	}

	tokens, err := s.idp.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return s.expire(ctx, gen, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		slog.Info("discarding stale token refresh", slog.String("browser_id", s.browserID))
		return nil
	}
	// サインアウトとの競合を防ぐため、世代確認と書き込みはロック内で行う
	err = s.persist(ctx, tokens)
	s.mu.Unlock()
	if err != nil {
		return s.expire(ctx, gen, err)
	}

	user, err := s.idp.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		return s.expire(ctx, gen, err)
	}

	s.mu.Lock()
	if s.generation == gen {
		s.user = user
		s.state = model.SessionAuthenticated
	}
	s.mu.Unlock()

	s.metrics.RecordRefresh(true)
	slog.Info("token refreshed", slog.String("browser_id", s.browserID))
	return nil
}

// SignOut はセッションを破棄し、ホストUIのログアウトURLを返す。
// IdPのグローバルサインアウトはベストエフォートで、失敗してもログに残すのみ。
// 保存データは常に削除する。
func (s *Session) SignOut(ctx context.Context) (string, error) {
	return s.IdPLogoutURL(), s.signOut(ctx, model.SessionAnonymous)
}

// IdPLogoutURL はホストUIのログアウトURLを返す。
func (s *Session) IdPLogoutURL() string {
	return s.idp.LogoutURL()
}

func (s *Session) signOut(ctx context.Context, next model.SessionState) error {
	ctx = detach(ctx)

	s.mu.Lock()
	s.generation++
	s.state = next
	s.user = nil
	s.mu.Unlock()

	globalFailed := false
	if tokens, ok, err := s.loadTokens(ctx); err == nil && ok {
		if err := s.idp.GlobalSignOut(ctx, tokens.AccessToken); err != nil {
			globalFailed = true
			slog.Warn("global sign out failed",
				slog.String("browser_id", s.browserID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.metrics.RecordSignOut(globalFailed)

	if err := s.store.Delete(ctx, s.browserID, TokensKey, ExpiryKey); err != nil {
		return fmt.Errorf("failed to clear stored tokens: %w", err)
	}

	slog.Info("user signed out", slog.String("browser_id", s.browserID))
	return nil
}

// expire はリフレッシュ失敗時の後始末を行う。
// 失敗したリフレッシュ自体が古い世代のものであれば何もしない。
func (s *Session) expire(ctx context.Context, gen uint64, cause error) error {
	s.metrics.RecordRefresh(false)

	slog.Warn("token refresh failed, signing out",
		slog.String("browser_id", s.browserID),
		slog.String("error", cause.Error()),
	)

	s.mu.Lock()
	stale := s.generation != gen
	s.mu.Unlock()

	if !stale {
		if err := s.signOut(ctx, model.SessionExpired); err != nil {
			slog.Error("failed to sign out after refresh failure",
				slog.String("browser_id", s.browserID),
				slog.String("error", err.Error()),
			)
		}
	}

	var expired *model.SessionExpiredError
	if errors.As(cause, &expired) {
		return expired
	}
	return &model.SessionExpiredError{Err: cause}
}

// detach はリクエストのキャンセルを切り離したコンテキストを返す。
// 状態遷移の途中でクライアントが切断してもトークンを失わないようにする。
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (s *Session) beginAuthenticating() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = model.SessionAuthenticating
	return s.generation
}

func (s *Session) failAuthenticating(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.state = model.SessionAnonymous
		s.user = nil
	}
}

// discard は失敗したサインイン・復元の保存データを削除し匿名に戻す。
func (s *Session) discard(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = model.SessionAnonymous
	s.user = nil
	s.mu.Unlock()

	if err := s.store.Delete(ctx, s.browserID, TokensKey, ExpiryKey); err != nil {
		slog.Error("failed to clear stored tokens",
			slog.String("browser_id", s.browserID),
			slog.String("error", err.Error()),
		)
	}
}

// persist はトークンと絶対有効期限（エポックミリ秒）を保存する。
func (s *Session) persist(ctx context.Context, tokens *model.TokenSet) error {
	blob, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	expiry := s.now().UnixMilli() + int64(tokens.ExpiresIn)*1000

	if err := s.store.Set(ctx, s.browserID, TokensKey, string(blob)); err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.browserID, ExpiryKey, strconv.FormatInt(expiry, 10)); err != nil {
		return err
	}
	return nil
}

// loadTokens はストアからトークンを読み込む。
func (s *Session) loadTokens(ctx context.Context) (*model.TokenSet, bool, error) {
	raw, ok, err := s.store.Get(ctx, s.browserID, TokensKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var tokens model.TokenSet
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, false, fmt.Errorf("failed to decode stored tokens: %w", err)
	}
	return &tokens, true, nil
}

// loadExpiry はストアから有効期限を読み込む。
// 読み込めない値は有効期限なしとして扱う。
func (s *Session) loadExpiry(ctx context.Context) (time.Time, bool) {
	raw, ok, err := s.store.Get(ctx, s.browserID, ExpiryKey)
	if err != nil || !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
