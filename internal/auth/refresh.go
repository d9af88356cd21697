package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// refreshWindow は有効期限の何分前からリフレッシュを試行するかのマージン。
	refreshWindow = 5 * time.Minute

	// ErrRefreshFailed はプロバイダーがリフレッシュを拒否し、
	// エラーコードを返さなかった場合のデフォルトタグ。
	ErrRefreshFailed = "RefreshFailed"

	// ErrRefreshTransport はトークンエンドポイントへの通信自体が失敗した場合のタグ。
	// 一時障害とみなし、既存のクレデンシャルは破棄しない。
	ErrRefreshTransport = "RefreshAccessTokenError"
)

// RefreshMetrics はリフレッシュ試行の計測フック。
type RefreshMetrics interface {
	RecordRefreshSuccess()
	RecordRefreshFailure(reason string)
	RecordRefreshLatency(duration time.Duration)
}

// RefresherConfig はRefresherの設定。
type RefresherConfig struct {
	ClientID     string
	ClientSecret string

	// TokenURL はテスト用にオーバーライド可能。空の場合はGoogleのエンドポイントを使う。
	TokenURL string
}

// Refresher はクレデンシャルの期限前リフレッシュを行うエンジン。
// リフレッシュは毎リクエストで「チェック」されるが、実際に「実行」されるのは
// 有効期限の5分前を過ぎた場合のみ。
type Refresher struct {
	config     RefresherConfig
	httpClient *http.Client
	metrics    RefreshMetrics

	// now はテスト用に差し替え可能な時計。
	now func() time.Time
}

// NewRefresher はRefresherを生成する。
// httpClientがnilの場合はタイムアウト付きのデフォルトクライアントを使う。
// metricsはnil可（計測なしで動作する）。
func NewRefresher(config RefresherConfig, httpClient *http.Client, metrics RefreshMetrics) *Refresher {
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Refresher{
		config:     config,
		httpClient: httpClient,
		metrics:    metrics,
		now:        time.Now,
	}
}

// refreshTokenResponse はgrant_type=refresh_tokenの交換レスポンス。
// 失敗時はerrorフィールドにプロバイダーのエラーコードが入る。
type refreshTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// Refresh はクレデンシャルの鮮度を確認し、必要な場合のみ更新して返す。
//
// 発火条件はRefreshTokenが存在し、かつ現在時刻が有効期限の5分前を過ぎていること。
// RefreshTokenがない場合はどれだけ失効していてもネットワーク呼び出しを行わず、
// クレデンシャルをそのまま通す（後続のAPI呼び出しが失敗するのは許容される劣化動作）。
//
// 結果は3通り:
//   - 交換成功: AccessTokenと有効期限を更新し、以前のErrorをクリアする。
//   - プロバイダー拒否(非2xx): Errorにプロバイダーのエラーコード（なければRefreshFailed）を
//     設定し、AccessToken/RefreshToken/ExpiresAtをすべてクリアして失効を確定させる。
//     呼び出し側はトークン欠落を検出して再ログインを促す。
//   - 通信障害: ErrorにRefreshAccessTokenErrorを設定するが、トークンは保持する。
//     確定した失効ではないため、最後に取得済みのクレデンシャルで再試行の余地を残す。
//
// 冪等: 発火条件を満たさない連続呼び出しはノーオペで同一のクレデンシャルを返す。
// 同一ユーザーの並行リフレッシュは重複排除しない（プロバイダーは短時間の
// 重複交換を許容するため許容される簡略化）。
func (rf *Refresher) Refresh(ctx context.Context, cred Credential) Credential {
	if cred.RefreshToken == "" {
		return cred
	}
	if rf.now().Before(cred.ExpiresAt.Add(-refreshWindow)) {
		return cred
	}

	start := rf.now()
	resp, transportErr := rf.exchange(ctx, cred.RefreshToken)
	if rf.metrics != nil {
		rf.metrics.RecordRefreshLatency(rf.now().Sub(start))
	}

	if transportErr != nil {
		slog.Error("token refresh transport failure",
			slog.String("error", transportErr.Error()),
		)
		if rf.metrics != nil {
			rf.metrics.RecordRefreshFailure("transport")
		}
		cred.Error = ErrRefreshTransport
		return cred
	}

	if resp.Error != "" || resp.AccessToken == "" {
		tag := resp.Error
		if tag == "" {
			tag = ErrRefreshFailed
		}
		slog.Error("token refresh rejected by provider",
			slog.String("provider_error", tag),
		)
		if rf.metrics != nil {
			rf.metrics.RecordRefreshFailure(tag)
		}
		// 失効を確定させ、呼び出し側に再認証を強制する。
		return Credential{Error: tag}
	}

	if rf.metrics != nil {
		rf.metrics.RecordRefreshSuccess()
	}

	return Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    rf.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
}

// exchange はトークンエンドポイントに対してgrant_type=refresh_tokenの交換を行う。
// 通信自体の失敗のみerrorで返す。プロバイダーの拒否はレスポンス内のErrorで表現される。
func (rf *Refresher) exchange(ctx context.Context, refreshToken string) (*refreshTokenResponse, error) {
	data := url.Values{
		"client_id":     {rf.config.ClientID},
		"client_secret": {rf.config.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rf.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := rf.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	var tokenResp refreshTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		// 2xxでないレスポンスのボディがJSONでないこともある。
		// レスポンス自体は受信できているため、プロバイダー拒否として扱う。
		if resp.StatusCode != http.StatusOK {
			return &refreshTokenResponse{Error: ErrRefreshFailed}, nil
		}
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && tokenResp.Error == "" {
		tokenResp.Error = ErrRefreshFailed
	}

	return &tokenResp, nil
}
