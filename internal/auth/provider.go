// Package auth はCognitoを使用した認証フローを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/hitoshi/billdash/internal/model"
)

// IdentityProvider は外部IdPとのやり取りを抽象化するインターフェース。
// ホストUIのURL生成、トークン交換・更新、ユーザー情報取得、直接サインインを提供する。
type IdentityProvider interface {
	// LoginURL はホストUIのログインURLを生成する。stateが空の場合は付与しない。
	LoginURL(state string) string
	// SignUpURL はホストUIのサインアップURLを生成する。
	SignUpURL(state string) string
	// LogoutURL はホストUIのログアウトURLを生成する。
	LogoutURL() string

	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code string) (*model.TokenSet, error)
	// Refresh はリフレッシュトークンで新しいトークンを取得する。
	Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error)
	// GetUser はアクセストークンからユーザー情報を取得する。
	GetUser(ctx context.Context, accessToken string) (*model.UserIdentity, error)
	// GlobalSignOut は全デバイスのトークンを無効化する。
	GlobalSignOut(ctx context.Context, accessToken string) error

	// SignIn はメールアドレスとパスワードで直接サインインする。
	SignIn(ctx context.Context, email, password string) (*model.TokenSet, error)
	// SignUp は新規ユーザーを登録する。
	SignUp(ctx context.Context, email, password, name string) error
	// ConfirmSignUp は確認コードでユーザー登録を完了する。
	ConfirmSignUp(ctx context.Context, email, code string) error
}

// GenerateState はOAuthのstateパラメータ用のランダム文字列を生成する。
func GenerateState() (string, error) {
	return randomHex(16)
}

// GenerateBrowserID はbrowser_id Cookie用の推測不能なIDを生成する。
func GenerateBrowserID() (string, error) {
	return randomHex(32)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
