// Package model はドメインモデルを定義する。
package model

// TokenSet はIdPのトークンエンドポイントが発行するトークンの組を表す。
// AccessTokenとIDTokenは常に同時に発行される。
// RefreshTokenはリフレッシュ時に再発行されないため、更新をまたいで不変。
// JSONタグは永続化されるトークンblobの形式と一致させている。
type TokenSet struct {
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"` // 秒
}

// UserIdentity はアクセストークンからIdP経由で導出されるユーザー情報。
// トークンセットとは独立して永続化されない。
type UserIdentity struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	FamilyName    string `json:"familyName,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// SessionState はセッションのライフサイクル上の状態を表す。
type SessionState string

const (
	SessionAnonymous      SessionState = "anonymous"
	SessionAuthenticating SessionState = "authenticating"
	SessionAuthenticated  SessionState = "authenticated"
	SessionRefreshing     SessionState = "refreshing"
	SessionExpired        SessionState = "expired"
)
