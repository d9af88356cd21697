package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/calendo/internal/auth"
	"github.com/hitoshi/calendo/internal/middleware"
	"github.com/hitoshi/calendo/internal/model"
)

// EventExtractorInterface はテキストからイベント下書きを抽出するインターフェース。
type EventExtractorInterface interface {
	Extract(ctx context.Context, text, timezone string) (*model.EventDraft, error)
}

// CalendarInserterInterface はイベント下書きをカレンダーに登録するインターフェース。
type CalendarInserterInterface interface {
	Insert(ctx context.Context, accessToken string, draft *model.EventDraft) (string, error)
}

// EventMetrics はイベント処理のメトリクス記録インターフェース。
type EventMetrics interface {
	RecordEventCreated()
	RecordExtractionFailure()
}

// noopEventMetrics はメトリクス未設定時のフォールバック。
type noopEventMetrics struct{}

func (noopEventMetrics) RecordEventCreated()      {}
func (noopEventMetrics) RecordExtractionFailure() {}

// EventHandlerConfig はイベントハンドラーの設定。
type EventHandlerConfig struct {
	// Timezone は抽出プロンプトに渡すユーザーのタイムゾーン。
	Timezone string
}

// EventHandler はイベント抽出・カレンダー登録のHTTPハンドラー。
type EventHandler struct {
	extractor EventExtractorInterface
	inserter  CalendarInserterInterface
	metrics   EventMetrics
	config    EventHandlerConfig
}

// NewEventHandler はEventHandlerを生成する。metricsはnil可。
func NewEventHandler(
	extractor EventExtractorInterface,
	inserter CalendarInserterInterface,
	metrics EventMetrics,
	config EventHandlerConfig,
) *EventHandler {
	if metrics == nil {
		metrics = noopEventMetrics{}
	}
	return &EventHandler{
		extractor: extractor,
		inserter:  inserter,
		metrics:   metrics,
		config:    config,
	}
}

// --- リクエスト/レスポンス型 ---

// parseEventRequest はイベント抽出リクエストのボディ。
type parseEventRequest struct {
	Text string `json:"text"`
}

// createEventRequest はイベント登録リクエストのボディ。
// 抽出済みの下書きをそのまま受け付ける。
type createEventRequest struct {
	Summary   string           `json:"summary"`
	Start     string           `json:"start"`
	End       string           `json:"end"`
	Reminders []model.Reminder `json:"reminders,omitempty"`
}

// createEventResponse はイベント登録成功時のレスポンス。
type createEventResponse struct {
	HTMLLink string `json:"html_link"`
}

// ParseEvent は自然言語テキストからイベント下書きを抽出する。
// POST /api/events/parse
func (h *EventHandler) ParseEvent(w http.ResponseWriter, r *http.Request) {
	view, ok := h.requireUsableSession(w, r)
	if !ok {
		return
	}
	_ = view // 抽出自体はアクセストークンを使わないが、失効セッションには作業させない

	var req parseEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	if req.Text == "" {
		handleServiceError(w, model.NewMissingTextError())
		return
	}

	draft, err := h.extractor.Extract(r.Context(), req.Text, h.config.Timezone)
	if err != nil {
		h.metrics.RecordExtractionFailure()
		slog.Error("event extraction failed", slog.String("error", err.Error()))
		handleServiceError(w, model.NewExtractionFailedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(draft)
}

// CreateEvent はイベント下書きをGoogleカレンダーに登録する。
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	view, ok := h.requireUsableSession(w, r)
	if !ok {
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	draft := &model.EventDraft{
		Summary:   req.Summary,
		Start:     req.Start,
		End:       req.End,
		Reminders: req.Reminders,
	}
	if reason := validateDraft(draft); reason != "" {
		handleServiceError(w, model.NewInvalidEventError(reason))
		return
	}

	htmlLink, err := h.inserter.Insert(r.Context(), view.AccessToken, draft)
	if err != nil {
		slog.Error("calendar insert failed",
			slog.String("error", err.Error()),
			slog.String("user_id", view.UserID),
		)
		handleServiceError(w, model.NewCalendarFailedError())
		return
	}

	h.metrics.RecordEventCreated()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createEventResponse{HTMLLink: htmlLink})
}

// requireUsableSession はコンテキストからセッションビューを取り出し、
// クレデンシャルが利用可能な状態であることを確認する。
// トークンが失効確定している場合は401と再認証シグナルを返す。
func (h *EventHandler) requireUsableSession(w http.ResponseWriter, r *http.Request) (*auth.SessionView, bool) {
	view, err := middleware.SessionViewFromContext(r.Context())
	if err != nil {
		handleServiceError(w, model.NewNotAuthenticatedError())
		return nil, false
	}

	if view.ReauthRequired() {
		handleServiceError(w, model.NewReauthRequiredError(view.Error))
		return nil, false
	}

	return view, true
}

// validateDraft はイベント下書きの必須フィールドと日時フォーマットを検証する。
// 問題がなければ空文字列を返す。
func validateDraft(draft *model.EventDraft) string {
	if draft.Summary == "" {
		return "summary is required"
	}
	if draft.Start == "" || draft.End == "" {
		return "start and end are required"
	}

	start, err := time.Parse(time.RFC3339, draft.Start)
	if err != nil {
		return "start must be an RFC 3339 timestamp"
	}
	end, err := time.Parse(time.RFC3339, draft.End)
	if err != nil {
		return "end must be an RFC 3339 timestamp"
	}
	if !end.After(start) {
		return "end must be after start"
	}

	return ""
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// apiErrorResponse は統一エラーレスポンスのJSON表現。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotAuthenticated, model.ErrCodeReauthRequired:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest, model.ErrCodeMissingText, model.ErrCodeInvalidEvent:
		return http.StatusBadRequest
	case model.ErrCodeExtractionFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeCalendarFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
