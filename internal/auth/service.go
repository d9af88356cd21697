package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/calendo/internal/model"
	"github.com/hitoshi/calendo/internal/repository"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、サインインイベントを返す。
	ExchangeCode(ctx context.Context, code string) (*SignInEvent, error)
}

// SessionView はUIとカレンダー登録コラボレーターが消費する公開セッションビュー。
// クレデンシャル + エンリッチメント結果からの純粋な射影であり、
// セッションのマテリアライズごとに再計算される。独立に変更されることはない。
type SessionView struct {
	AccessToken string     `json:"accessToken,omitempty"`
	UserID      string     `json:"userId,omitempty"`
	Plan        model.Plan `json:"plan,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ReauthRequired はクレデンシャルが再認証なしには使えない状態かを返す。
// トークンが失効確定（アクセストークンが剥奪済み）の場合にtrue。
func (v SessionView) ReauthRequired() bool {
	return v.AccessToken == "" || (v.Error != "" && v.Error != ErrRefreshTransport)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
// サインインイベントのマテリアライズ、アイデンティティエンリッチメント、
// リクエストごとのリフレッシュチェックを1つのパイプラインとして束ねる。
type Service struct {
	oauth       OAuthProvider
	refresher   *Refresher
	userRepo    repository.UserRepository
	subRepo     repository.SubscriptionRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	refresher *Refresher,
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		refresher:   refresher,
		userRepo:    userRepo,
		subRepo:     subRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
//
// 処理順序は固定: まずクレデンシャルのフィールドを確定させ、その後に
// アイデンティティエンリッチメントを実行する。エンリッチメントのDB障害は
// ログに記録して握りつぶし、サインイン自体は成功させる
// （カレンダー機能の可用性をアイデンティティ層の障害より優先する）。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、サインインイベントを取得
	ev, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. クレデンシャルをマテリアライズ（新規セッションのため前回値は空）
	cred := Materialize(Credential{}, ev)

	// 3. アイデンティティエンリッチメント
	userID, plan := s.enrich(ctx, ev)

	// 4. セッションを発行
	session, err := s.createSession(ctx, userID, plan, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed in",
		slog.String("session_id", session.ID),
		slog.String("user_id", userID),
		slog.Bool("refresh_token_granted", ev.RefreshToken != ""),
	)

	return session, nil
}

// enrich はサインインイベントをローカルのユーザー/プランに紐付ける。
//
// emailが空の場合は一切のDBアクセスなしでスキップする（エラーではなく意図的な省略）。
// UPSERTはname/image/google_idを作成時・更新時の両方に設定する。
// 購読が未作成の場合のみplan=free, status=activeで作成し、既存の購読の
// プランはそのまま採用する（proユーザーが黙ってダウングレードされることはない）。
//
// 戻り値はセッションに記録するuserIDとplan。失敗時はともに空で、
// そのサイクルのエンリッチメントだけがスキップされる。
func (s *Service) enrich(ctx context.Context, ev *SignInEvent) (string, model.Plan) {
	if ev.Email == "" {
		return "", ""
	}

	user, err := s.userRepo.UpsertByEmail(ctx, uuid.New().String(), ev.Email, repository.UserUpsert{
		Name:     ev.Name,
		Image:    ev.Picture,
		GoogleID: ev.ProviderAccountID,
	})
	if err != nil {
		slog.Error("identity enrichment failed, sign-in continues without user/plan",
			slog.String("error", err.Error()),
			slog.String("email", ev.Email),
		)
		return "", ""
	}

	if user.Subscription != nil {
		return user.ID, user.Subscription.Plan
	}

	sub, err := s.subRepo.CreateIfAbsent(ctx, &model.Subscription{
		ID:     uuid.New().String(),
		UserID: user.ID,
		Plan:   model.PlanFree,
		Status: model.SubscriptionStatusActive,
	})
	if err != nil {
		slog.Error("subscription creation failed, sign-in continues without plan",
			slog.String("error", err.Error()),
			slog.String("user_id", user.ID),
		)
		return user.ID, ""
	}

	slog.Info("new subscription created",
		slog.String("user_id", user.ID),
		slog.String("plan", string(sub.Plan)),
	)

	return user.ID, sub.Plan
}

// MaterializeSession はリクエストごとのセッションマテリアライズを行う。
// セッションをロードし、リフレッシュエンジンで鮮度チェックを実行し、
// クレデンシャルが変化した場合のみ永続化してから公開ビューを射影する。
// セッションが存在しないか期限切れの場合はnilを返す。
func (s *Service) MaterializeSession(ctx context.Context, sessionID string) (*SessionView, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	cred := Credential{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.TokenExpiresAt,
		Error:        session.TokenError,
	}

	refreshed := s.refresher.Refresh(ctx, cred)

	if refreshed != cred {
		session.AccessToken = refreshed.AccessToken
		session.RefreshToken = refreshed.RefreshToken
		session.TokenExpiresAt = refreshed.ExpiresAt
		session.TokenError = refreshed.Error
		if err := s.sessionRepo.UpdateCredential(ctx, session); err != nil {
			// 永続化失敗はこのリクエスト内のビューには影響させない。
			// 次回マテリアライズ時に再度リフレッシュされる。
			slog.Error("failed to persist refreshed credential",
				slog.String("error", err.Error()),
				slog.String("session_id", session.ID),
			)
		}
	}

	return &SessionView{
		AccessToken: refreshed.AccessToken,
		UserID:      session.UserID,
		Plan:        session.Plan,
		Error:       refreshed.Error,
	}, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
// エンリッチメントが未完了のセッション（userIDなし）ではnilを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}
	if session.UserID == "" {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	// FindByIDはusersテーブルのみを読むため、購読は別途取得して載せる。
	// 購読の取得失敗はプラン表示を欠落させるだけで、ユーザー取得自体は成功させる。
	sub, err := s.subRepo.FindByUserID(ctx, user.ID)
	if err != nil {
		slog.Error("failed to load subscription for current user",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		user.Subscription = sub
	}

	return user, nil
}

// createSession はクレデンシャルとエンリッチメント結果からセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, plan model.Plan, cred Credential) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:             sessionID,
		UserID:         userID,
		Plan:           plan,
		AccessToken:    cred.AccessToken,
		RefreshToken:   cred.RefreshToken,
		TokenExpiresAt: cred.ExpiresAt,
		TokenError:     cred.Error,
		ExpiresAt:      time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:      time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
