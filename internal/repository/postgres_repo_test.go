package repository

import (
	"database/sql"
	"testing"
	"time"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// PostgresSubscriptionRepoはSubscriptionRepositoryインターフェースを満たすことを検証
func TestPostgresSubscriptionRepo_ImplementsInterface(t *testing.T) {
	var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// NewPostgresUserRepoが正しく初期化されることを検証
func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresSubscriptionRepoが正しく初期化されることを検証
func TestNewPostgresSubscriptionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSubscriptionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresSessionRepoが正しく初期化されることを検証
func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// ユニットテスト: NULL変換ヘルパーの挙動を検証（DB接続なし）
func TestNullString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want sql.NullString
	}{
		{"空文字列はNULL", "", sql.NullString{String: "", Valid: false}},
		{"非空文字列は有効", "user-1", sql.NullString{String: "user-1", Valid: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nullString(tt.in); got != tt.want {
				t.Errorf("nullString(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNullTime(t *testing.T) {
	if got := nullTime(time.Time{}); got.Valid {
		t.Errorf("nullTime(zero) should be NULL, got %+v", got)
	}

	now := time.Now()
	got := nullTime(now)
	if !got.Valid || !got.Time.Equal(now) {
		t.Errorf("nullTime(%v) = %+v, want valid", now, got)
	}
}
