// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// emailを自然キーとしてサインインのたびにUPSERTされる。
type User struct {
	ID        string
	Email     string
	Name      string
	Image     string
	GoogleID  string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Subscription はUPSERT時にJOINで取得される購読プラン。未作成の場合はnil。
	Subscription *Subscription
}

// Plan は購読プランの種別を表す。
type Plan string

const (
	// PlanFree は無料プラン。初回サインイン時にデフォルトで付与される。
	PlanFree Plan = "free"
	// PlanPro は有料プラン。課金Webhook等の外部コラボレーターが設定する。
	PlanPro Plan = "pro"
)

// SubscriptionStatusActive は有効な購読のステータス値。
const SubscriptionStatusActive = "active"

// Subscription はユーザーと1:1の購読プランレコードを表す。
// 初回のアイデンティティエンリッチメントで一度だけ作成され、
// 以降このパイプラインからは変更されない（プラン変更は外部コラボレーターの責務）。
type Subscription struct {
	ID        string
	UserID    string
	Plan      Plan
	Status    string
	CreatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// Googleのクレデンシャル（アクセス/リフレッシュトークンと有効期限）を
// サーバーサイドに保持し、opaqueなセッションIDのみをCookieで渡す。
type Session struct {
	ID     string
	UserID string // エンリッチメント失敗時は空のまま
	Plan   Plan   // エンリッチメント失敗時は空のまま

	// クレデンシャル。TokenExpiresAtはアクセストークンの有効期限であり、
	// セッション自体の有効期限（ExpiresAt）とは独立している。
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	TokenError     string

	ExpiresAt time.Time
	CreatedAt time.Time
}
