// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, event, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotAuthenticated = "NOT_AUTHENTICATED"
	ErrCodeReauthRequired   = "REAUTH_REQUIRED"
	ErrCodeMissingText      = "MISSING_TEXT"
	ErrCodeExtractionFailed = "EXTRACTION_FAILED"
	ErrCodeInvalidEvent     = "INVALID_EVENT"
	ErrCodeCalendarFailed   = "CALENDAR_FAILED"
)

// NewInvalidRequestError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "Googleアカウントでログインしてください。",
	}
}

// NewReauthRequiredError はトークン失効による再認証要求エラーを生成する。
// リフレッシュトークンがプロバイダーに拒否された場合に返される。
func NewReauthRequiredError(tokenError string) *APIError {
	return &APIError{
		Code:     ErrCodeReauthRequired,
		Message:  fmt.Sprintf("Googleの認証情報が失効しました: %s", tokenError),
		Category: "auth",
		Action:   "再度Googleアカウントでログインしてください。",
	}
}

// NewMissingTextError は入力テキスト未指定エラーを生成する。
func NewMissingTextError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingText,
		Message:  "イベントのテキストが指定されていません。",
		Category: "validation",
		Action:   "予定の内容を入力してください（例: 明日の10時に歯医者）。",
	}
}

// NewExtractionFailedError はイベント抽出失敗エラーを生成する。
func NewExtractionFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeExtractionFailed,
		Message:  "テキストからイベントを抽出できませんでした。",
		Category: "event",
		Action:   "日時がわかる表現で入力し直してください。",
	}
}

// NewInvalidEventError は不正なイベントデータエラーを生成する。
func NewInvalidEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvent,
		Message:  fmt.Sprintf("イベントデータが不正です: %s", reason),
		Category: "validation",
		Action:   "タイトルと開始・終了日時を確認してください。",
	}
}

// NewCalendarFailedError はカレンダー登録失敗エラーを生成する。
func NewCalendarFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCalendarFailed,
		Message:  "Googleカレンダーへの登録に失敗しました。",
		Category: "event",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
