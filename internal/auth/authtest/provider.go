// Package authtest はIdentityProviderのテスト用実装を提供する。
package authtest

import (
	"context"
	"errors"
	"net/url"

	"github.com/hitoshi/billdash/internal/auth"
	"github.com/hitoshi/billdash/internal/model"
)

var _ auth.IdentityProvider = (*Provider)(nil)

// ErrNotConfigured は関数フィールドが未設定のメソッドが返すエラー。
var ErrNotConfigured = errors.New("authtest: not configured")

// Provider は関数フィールドで振る舞いを差し替えられるIdentityProvider。
// GetUserFnが未設定の場合は "user-"+accessToken をユーザー名として返す。
type Provider struct {
	ExchangeCodeFn  func(ctx context.Context, code string) (*model.TokenSet, error)
	RefreshFn       func(ctx context.Context, refreshToken string) (*model.TokenSet, error)
	GetUserFn       func(ctx context.Context, accessToken string) (*model.UserIdentity, error)
	GlobalSignOutFn func(ctx context.Context, accessToken string) error
	SignInFn        func(ctx context.Context, email, password string) (*model.TokenSet, error)
	SignUpFn        func(ctx context.Context, email, password, name string) error
	ConfirmSignUpFn func(ctx context.Context, email, code string) error
}

const baseURL = "https://idp.example.com"

func (p *Provider) LoginURL(state string) string {
	return baseURL + "/login?state=" + url.QueryEscape(state)
}

func (p *Provider) SignUpURL(state string) string {
	return baseURL + "/signup?state=" + url.QueryEscape(state)
}

func (p *Provider) LogoutURL() string {
	return baseURL + "/logout"
}

func (p *Provider) ExchangeCode(ctx context.Context, code string) (*model.TokenSet, error) {
	if p.ExchangeCodeFn == nil {
		return nil, ErrNotConfigured
	}
	return p.ExchangeCodeFn(ctx, code)
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	if p.RefreshFn == nil {
		return nil, &model.SessionExpiredError{Err: ErrNotConfigured}
	}
	return p.RefreshFn(ctx, refreshToken)
}

func (p *Provider) GetUser(ctx context.Context, accessToken string) (*model.UserIdentity, error) {
	if p.GetUserFn == nil {
		return &model.UserIdentity{Username: "user-" + accessToken, Email: "user@example.com", EmailVerified: true}, nil
	}
	return p.GetUserFn(ctx, accessToken)
}

func (p *Provider) GlobalSignOut(ctx context.Context, accessToken string) error {
	if p.GlobalSignOutFn == nil {
		return nil
	}
	return p.GlobalSignOutFn(ctx, accessToken)
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*model.TokenSet, error) {
	if p.SignInFn == nil {
		return nil, ErrNotConfigured
	}
	return p.SignInFn(ctx, email, password)
}

func (p *Provider) SignUp(ctx context.Context, email, password, name string) error {
	if p.SignUpFn == nil {
		return ErrNotConfigured
	}
	return p.SignUpFn(ctx, email, password, name)
}

func (p *Provider) ConfirmSignUp(ctx context.Context, email, code string) error {
	if p.ConfirmSignUpFn == nil {
		return ErrNotConfigured
	}
	return p.ConfirmSignUpFn(ctx, email, code)
}

// Tokens はテスト用のTokenSetを生成する。
func Tokens(access string) *model.TokenSet {
	return &model.TokenSet{
		AccessToken:  access,
		IDToken:      "id-" + access,
		RefreshToken: "refresh-" + access,
		ExpiresIn:    3600,
	}
}
