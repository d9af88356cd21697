// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/calendo/internal/auth"
	"github.com/hitoshi/calendo/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionViewContextKey はリクエストコンテキストにセッションビューを格納するためのキー。
var sessionViewContextKey = contextKey("session_view")

// SessionMaterializer はセッションのマテリアライズに必要なインターフェース。
// 実装はリフレッシュエンジンの鮮度チェックを内包する。つまり認証済みの
// 全リクエストで期限前リフレッシュが「チェック」される（実行は失効間際のみ）。
type SessionMaterializer interface {
	MaterializeSession(ctx context.Context, sessionID string) (*auth.SessionView, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// クレデンシャルの鮮度チェック済みのセッションビューをリクエストコンテキストに
// 注入するミドルウェアを返す。未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(materializer SessionMaterializer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			// 2. セッションのマテリアライズ（ロード + リフレッシュチェック + 射影）
			view, err := materializer.MaterializeSession(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to materialize session",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}
			if view == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			// 3. セッションビューをコンテキストに注入
			ctx := context.WithValue(r.Context(), sessionViewContextKey, view)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionViewFromContext はリクエストコンテキストからセッションビューを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionViewFromContext(ctx context.Context) (*auth.SessionView, error) {
	view, ok := ctx.Value(sessionViewContextKey).(*auth.SessionView)
	if !ok || view == nil {
		return nil, fmt.Errorf("session view not found in context")
	}
	return view, nil
}

// ContextWithSessionView はコンテキストにセッションビューを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSessionView(ctx context.Context, view *auth.SessionView) context.Context {
	return context.WithValue(ctx, sessionViewContextKey, view)
}
