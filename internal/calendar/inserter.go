// Package calendar はGoogleカレンダーへのイベント登録コラボレーターを提供する。
// セッションから渡された現在有効なアクセストークンのみを前提とし、
// トークンのリフレッシュはこのパッケージの責務外（authパッケージが保証する）。
package calendar

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/hitoshi/calendo/internal/model"
)

// InserterConfig はInserterの設定。
type InserterConfig struct {
	// Timezone はイベントのstart/endに付与するIANAタイムゾーン名。
	Timezone string

	// Endpoint はテスト用にオーバーライド可能なAPIベースURL。空の場合は本番エンドポイント。
	Endpoint string
}

// Inserter はGoogleカレンダーへのイベント登録クライアント。
type Inserter struct {
	config InserterConfig
	logger *slog.Logger
}

// NewInserter はInserterを生成する。
func NewInserter(config InserterConfig, logger *slog.Logger) *Inserter {
	return &Inserter{config: config, logger: logger}
}

// Insert はイベント下書きをユーザーのprimaryカレンダーに登録し、
// 登録されたイベントのHTMLリンクを返す。
// accessTokenは呼び出し時点で有効であることが前提（期限前リフレッシュ済み）。
func (i *Inserter) Insert(ctx context.Context, accessToken string, draft *model.EventDraft) (string, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		})),
	}
	if i.config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(i.config.Endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create calendar client: %w", err)
	}

	event := &gcal.Event{
		Summary: draft.Summary,
		Start: &gcal.EventDateTime{
			DateTime: draft.Start,
			TimeZone: i.config.Timezone,
		},
		End: &gcal.EventDateTime{
			DateTime: draft.End,
			TimeZone: i.config.Timezone,
		},
	}

	if len(draft.Reminders) > 0 {
		overrides := make([]*gcal.EventReminder, len(draft.Reminders))
		for idx, r := range draft.Reminders {
			overrides[idx] = &gcal.EventReminder{
				Method:  r.Method,
				Minutes: int64(r.Minutes),
			}
		}
		event.Reminders = &gcal.EventReminders{
			UseDefault:      false,
			Overrides:       overrides,
			ForceSendFields: []string{"UseDefault"},
		}
	}

	created, err := svc.Events.Insert("primary", event).Context(ctx).Do()
	if err != nil {
		i.logger.Error("カレンダーへのイベント登録に失敗しました",
			slog.String("error", err.Error()),
			slog.String("summary", draft.Summary),
		)
		return "", fmt.Errorf("failed to insert calendar event: %w", err)
	}

	i.logger.Info("calendar event created",
		slog.String("event_id", created.Id),
	)

	return created.HtmlLink, nil
}
