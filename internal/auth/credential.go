// Package auth はGoogle OAuthのサインインフロー、クレデンシャルのライフサイクル管理
// （取得・期限前リフレッシュ・失効伝搬）、セッション管理を提供する。
package auth

import "time"

// Credential はプロバイダーから付与されたアクセス/リフレッシュ/有効期限の3つ組を表す。
type Credential struct {
	// AccessToken はカレンダーAPI用の短命なBearerトークン。
	AccessToken string

	// RefreshToken は初回同意時のみ発行される長命トークン。
	// 再同意なしのログインではプロバイダーが省略するため、リフレッシュサイクルを
	// またいで保持し続ける必要がある。
	RefreshToken string

	// ExpiresAt はAccessTokenが無効になる絶対時刻。ゼロ値は未設定を表す。
	ExpiresAt time.Time

	// Error はリフレッシュ失敗時に設定されるエラータグ。
	// 設定されている場合、このクレデンシャルは再認証なしには使えない可能性がある。
	Error string
}

// SignInEvent はプロバイダーのサインイン成功イベントを表す。
// ExpiresAtはプロバイダー時計の秒単位UNIX時刻。0は未指定。
type SignInEvent struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAt         int64
	ProviderAccountID string

	// プロフィール情報。Emailが空の場合、アイデンティティエンリッチメントは
	// 実行されない（DBアクセスは一切発生しない）。
	Email   string
	Name    string
	Picture string
}

// defaultTokenLifetime はプロバイダーが有効期限を省略した場合に適用する保守的なデフォルト。
const defaultTokenLifetime = time.Hour

// Materialize はサインインイベントからクレデンシャルを構築する。
//   - AccessTokenはサインインのたびに必ず上書きされる。
//   - RefreshTokenはイベントに含まれる場合のみ更新し、省略時はprevの値を維持する。
//   - ExpiresAt省略時は1時間のデフォルトを適用する（即時失効でも無期限でもなく）。
//
// 副作用はなく、永続ストレージには触れない。
func Materialize(prev Credential, ev *SignInEvent) Credential {
	cred := Credential{
		AccessToken:  ev.AccessToken,
		RefreshToken: prev.RefreshToken,
	}

	if ev.RefreshToken != "" {
		cred.RefreshToken = ev.RefreshToken
	}

	if ev.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(ev.ExpiresAt, 0)
	} else {
		cred.ExpiresAt = time.Now().Add(defaultTokenLifetime)
	}

	return cred
}
