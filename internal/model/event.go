// Package model はドメインモデルを定義する。
package model

// EventDraft は自然言語テキストから抽出されたカレンダーイベントの下書き。
// StartとEndはタイムゾーンオフセット付きのISO 8601文字列（例: 2025-04-26T10:00:00-07:00）。
type EventDraft struct {
	Summary   string     `json:"summary"`
	Start     string     `json:"start"`
	End       string     `json:"end"`
	Reminders []Reminder `json:"reminders"`
}

// Reminder はイベントの通知設定を表す。
type Reminder struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}
