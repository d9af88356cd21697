package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/calendo/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, image, google_id, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Image, &user.GoogleID, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// UpsertByEmail はemailを自然キーとしてユーザーをUPSERTし、購読をJOINして返す。
// name/image/google_idは作成時・更新時の両方に設定される。
func (r *PostgresUserRepo) UpsertByEmail(ctx context.Context, id, email string, attrs UserUpsert) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, name, image, google_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (email) DO UPDATE
		 SET name = EXCLUDED.name,
		     image = EXCLUDED.image,
		     google_id = EXCLUDED.google_id,
		     updated_at = now()
		 RETURNING id, email, name, image, google_id, created_at, updated_at`,
		id, email, attrs.Name, attrs.Image, attrs.GoogleID,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Image, &user.GoogleID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 購読をJOINではなく追加クエリで取得する。
	// UPSERTのRETURNINGとJOINは併用できないため2クエリ構成とする。
	sub := &model.Subscription{}
	err = r.db.QueryRowContext(ctx,
		`SELECT id, user_id, plan, status, created_at
		 FROM subscriptions WHERE user_id = $1`,
		user.ID,
	).Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription for user: %w", err)
	}

	user.Subscription = sub
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
