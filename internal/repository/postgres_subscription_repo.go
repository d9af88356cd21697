package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/calendo/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindByUserID は指定ユーザーの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, plan, status, created_at
		 FROM subscriptions WHERE user_id = $1`,
		userID,
	).Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	return sub, nil
}

// CreateIfAbsent は購読が存在しない場合のみ作成し、作成後（または既存）の購読を返す。
// user_idの一意制約 + ON CONFLICT DO NOTHING の単一条件付きINSERTにより、
// 同一ユーザーの初回ログイン同士が競合しても二重作成されない。
func (r *PostgresSubscriptionRepo) CreateIfAbsent(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, plan, status, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id) DO NOTHING`,
		sub.ID, sub.UserID, sub.Plan, sub.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	// 競合で挿入されなかった場合もあるため、確定した行を読み直す。
	created, err := r.FindByUserID(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("subscription missing after conditional insert: user=%s", sub.UserID)
	}

	return created, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
