// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/calendo/internal/model"
)

// UserUpsert はemailキーのUPSERTで設定されるユーザー属性。
// 作成時・更新時の両方に反映される（表示名やアバターの変更を毎ログインで追従する）。
type UserUpsert struct {
	Name     string
	Image    string
	GoogleID string
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// UpsertByEmail はemailを自然キーとしてユーザーをUPSERTし、
	// 購読レコードをJOINした結果を返す。購読が未作成の場合Subscriptionはnil。
	UpsertByEmail(ctx context.Context, id, email string, attrs UserUpsert) (*model.User, error)
}

// SubscriptionRepository は購読プランデータの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByUserID は指定ユーザーの購読を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)

	// CreateIfAbsent は購読が存在しない場合のみ作成し、作成後の購読を返す。
	// user_idの一意制約とON CONFLICT DO NOTHINGにより、
	// 同一ユーザーの初回ログインが並行しても購読は二重作成されない。
	CreateIfAbsent(ctx context.Context, sub *model.Subscription) (*model.Subscription, error)
}

// SessionRepository はセッション（クレデンシャル込み）の永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// UpdateCredential はセッションのクレデンシャル列
	// （access_token, refresh_token, token_expires_at, token_error）を更新する。
	UpdateCredential(ctx context.Context, session *model.Session) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
