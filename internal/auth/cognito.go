package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"

	"github.com/hitoshi/billdash/internal/model"
)

// defaultExpiresIn はIdPが有効期間を返さなかった場合の秒数。
const defaultExpiresIn = 3600

var oauthScopes = []string{"email", "openid", "profile"}

// CognitoConfig はCognitoプロバイダーの設定。
type CognitoConfig struct {
	Region          string
	ClientID        string
	Domain          string // ホストUIのドメイン接頭辞
	RedirectSignIn  string
	RedirectSignOut string

	// テスト用にオーバーライド可能なホストUIのベースURL
	HostedUIBaseURL string
	HTTPClient      *http.Client
}

// cognitoAPI はCognito Identity Provider SDKのうち使用するAPIのみを抜き出したもの。
type cognitoAPI interface {
	GetUser(ctx context.Context, params *cognitoidentityprovider.GetUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GetUserOutput, error)
	GlobalSignOut(ctx context.Context, params *cognitoidentityprovider.GlobalSignOutInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GlobalSignOutOutput, error)
	InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
	SignUp(ctx context.Context, params *cognitoidentityprovider.SignUpInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, params *cognitoidentityprovider.ConfirmSignUpInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmSignUpOutput, error)
}

// CognitoProvider はAmazon CognitoによるIdentityProvider実装。
// トークンエンドポイントはHTTPで直接呼び出し、それ以外はSDKを使用する。
type CognitoProvider struct {
	config CognitoConfig
	api    cognitoAPI
	client *http.Client
}

// NewCognitoProvider はCognitoProviderを生成する。
// 使用するAPIはすべてアクセストークンまたはクライアントIDで認可されるため、
// AWSクレデンシャルは使用しない。
func NewCognitoProvider(ctx context.Context, cfg CognitoConfig) (*CognitoProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newCognitoProvider(cfg, cognitoidentityprovider.NewFromConfig(awsCfg)), nil
}

func newCognitoProvider(cfg CognitoConfig, api cognitoAPI) *CognitoProvider {
	if cfg.HostedUIBaseURL == "" {
		cfg.HostedUIBaseURL = fmt.Sprintf("https://%s.auth.%s.amazoncognito.com", cfg.Domain, cfg.Region)
	}
	cfg.HostedUIBaseURL = strings.TrimRight(cfg.HostedUIBaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &CognitoProvider{config: cfg, api: api, client: client}
}

// LoginURL はホストUIのログインURLを生成する。
func (p *CognitoProvider) LoginURL(state string) string {
	return p.hostedUIURL("/login", state)
}

// SignUpURL はホストUIのサインアップURLを生成する。
func (p *CognitoProvider) SignUpURL(state string) string {
	return p.hostedUIURL("/signup", state)
}

func (p *CognitoProvider) hostedUIURL(path, state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"response_type": {"code"},
		"scope":         {strings.Join(oauthScopes, " ")},
		"redirect_uri":  {p.config.RedirectSignIn},
	}
	if state != "" {
		params.Set("state", state)
	}
	return p.config.HostedUIBaseURL + path + "?" + params.Encode()
}

// LogoutURL はホストUIのログアウトURLを生成する。
func (p *CognitoProvider) LogoutURL() string {
	params := url.Values{
		"client_id":  {p.config.ClientID},
		"logout_uri": {p.config.RedirectSignOut},
	}
	return p.config.HostedUIBaseURL + "/logout?" + params.Encode()
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ExchangeCode は認可コードをトークンに交換する。
// 失敗時はトークンエンドポイントの生のレスポンスを含むAuthExchangeErrorを返す。
func (p *CognitoProvider) ExchangeCode(ctx context.Context, code string) (*model.TokenSet, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {p.config.ClientID},
		"code":         {code},
		"redirect_uri": {p.config.RedirectSignIn},
	}

	status, body, err := p.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &model.AuthExchangeError{Status: status, Body: string(body)}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	return &model.TokenSet{
		AccessToken:  resp.AccessToken,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
// トークンエンドポイントはリフレッシュトークンを返さないため、入力値を引き継ぐ。
// 失敗はすべてSessionExpiredErrorとして返す。
func (p *CognitoProvider) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {p.config.ClientID},
		"refresh_token": {refreshToken},
	}

	status, body, err := p.postToken(ctx, form)
	if err != nil {
		return nil, &model.SessionExpiredError{Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &model.SessionExpiredError{
			Err: fmt.Errorf("failed to refresh token: status %d: %s", status, string(body)),
		}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &model.SessionExpiredError{Err: fmt.Errorf("failed to parse token response: %w", err)}
	}

	return &model.TokenSet{
		AccessToken:  resp.AccessToken,
		IDToken:      resp.IDToken,
		RefreshToken: refreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}

// postToken はトークンエンドポイントにフォームをPOSTし、ステータスとボディを返す。
func (p *CognitoProvider) postToken(ctx context.Context, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.HostedUIBaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read token response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// GetUser はアクセストークンからユーザー情報を取得する。
func (p *CognitoProvider) GetUser(ctx context.Context, accessToken string) (*model.UserIdentity, error) {
	out, err := p.api.GetUser(ctx, &cognitoidentityprovider.GetUserInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	attrs := make(map[string]string, len(out.UserAttributes))
	for _, a := range out.UserAttributes {
		attrs[aws.ToString(a.Name)] = aws.ToString(a.Value)
	}

	return &model.UserIdentity{
		Username:      aws.ToString(out.Username),
		Email:         attrs["email"],
		Name:          attrs["name"],
		FamilyName:    attrs["family_name"],
		EmailVerified: attrs["email_verified"] == "true",
	}, nil
}

// GlobalSignOut は全デバイスのトークンを無効化する。
func (p *CognitoProvider) GlobalSignOut(ctx context.Context, accessToken string) error {
	_, err := p.api.GlobalSignOut(ctx, &cognitoidentityprovider.GlobalSignOutInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return fmt.Errorf("failed to sign out globally: %w", err)
	}
	return nil
}

// SignIn はUSER_PASSWORD_AUTHフローで直接サインインする。
func (p *CognitoProvider) SignIn(ctx context.Context, email, password string) (*model.TokenSet, error) {
	out, err := p.api.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(p.config.ClientID),
		AuthParameters: map[string]string{
			"USERNAME": email,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return nil, classifySignInError(err)
	}
	if out.AuthenticationResult == nil {
		return nil, &model.CredentialError{
			Kind:     model.CredentialUnknown,
			Fallback: "Authentication failed - no tokens received",
		}
	}

	r := out.AuthenticationResult
	expiresIn := int(r.ExpiresIn)
	if expiresIn == 0 {
		expiresIn = defaultExpiresIn
	}
	return &model.TokenSet{
		AccessToken:  aws.ToString(r.AccessToken),
		IDToken:      aws.ToString(r.IdToken),
		RefreshToken: aws.ToString(r.RefreshToken),
		ExpiresIn:    expiresIn,
	}, nil
}

// SignUp は新規ユーザーを登録する。確認コードはメールで送信される。
func (p *CognitoProvider) SignUp(ctx context.Context, email, password, name string) error {
	_, err := p.api.SignUp(ctx, &cognitoidentityprovider.SignUpInput{
		ClientId: aws.String(p.config.ClientID),
		Username: aws.String(email),
		Password: aws.String(password),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
			{Name: aws.String("name"), Value: aws.String(name)},
		},
	})
	if err != nil {
		return classifySignUpError(err)
	}
	return nil
}

// ConfirmSignUp は確認コードでユーザー登録を完了する。
func (p *CognitoProvider) ConfirmSignUp(ctx context.Context, email, code string) error {
	_, err := p.api.ConfirmSignUp(ctx, &cognitoidentityprovider.ConfirmSignUpInput{
		ClientId:         aws.String(p.config.ClientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(code),
	})
	if err != nil {
		return classifyConfirmError(err)
	}
	return nil
}

// --- エラー分類 ---

func classifySignInError(err error) *model.CredentialError {
	var (
		notAuthorized *types.NotAuthorizedException
		notConfirmed  *types.UserNotConfirmedException
		notFound      *types.UserNotFoundException
		invalidParam  *types.InvalidParameterException
	)
	switch {
	case errors.As(err, &notAuthorized):
		return &model.CredentialError{Kind: model.CredentialNotAuthorized, Err: err}
	case errors.As(err, &notConfirmed):
		return &model.CredentialError{Kind: model.CredentialUserNotConfirmed, Err: err}
	case errors.As(err, &notFound):
		return &model.CredentialError{Kind: model.CredentialUserNotFound, Err: err}
	case errors.As(err, &invalidParam):
		return &model.CredentialError{Kind: model.CredentialInvalidParameter, Err: err}
	}
	return unknownCredentialError(err, "Failed to sign in")
}

func classifySignUpError(err error) *model.CredentialError {
	var (
		exists       *types.UsernameExistsException
		invalidPw    *types.InvalidPasswordException
		invalidParam *types.InvalidParameterException
	)
	switch {
	case errors.As(err, &exists):
		return &model.CredentialError{Kind: model.CredentialUsernameExists, Err: err}
	case errors.As(err, &invalidPw):
		return &model.CredentialError{Kind: model.CredentialInvalidPassword, Err: err}
	case errors.As(err, &invalidParam):
		return &model.CredentialError{Kind: model.CredentialInvalidParameter, Err: err}
	}
	return unknownCredentialError(err, "Failed to create account")
}

// classifyConfirmError は確認時のエラーを分類する。
// 確認済みユーザーへの再確認はNotAuthorizedExceptionとして返される。
func classifyConfirmError(err error) *model.CredentialError {
	var (
		mismatch      *types.CodeMismatchException
		expired       *types.ExpiredCodeException
		notAuthorized *types.NotAuthorizedException
	)
	switch {
	case errors.As(err, &mismatch):
		return &model.CredentialError{Kind: model.CredentialCodeMismatch, Err: err}
	case errors.As(err, &expired):
		return &model.CredentialError{Kind: model.CredentialExpiredCode, Err: err}
	case errors.As(err, &notAuthorized):
		return &model.CredentialError{Kind: model.CredentialAlreadyConfirmed, Err: err}
	}
	return unknownCredentialError(err, "Failed to verify email")
}

// unknownCredentialError は分類できないエラーをIdPのメッセージ付きで返す。
func unknownCredentialError(err error, fallback string) *model.CredentialError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorMessage() != "" {
		fallback = apiErr.ErrorMessage()
	}
	return &model.CredentialError{Kind: model.CredentialUnknown, Fallback: fallback, Err: err}
}

// compile-time interface check
var _ IdentityProvider = (*CognitoProvider)(nil)
