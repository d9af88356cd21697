// Package extract は自然言語テキストからカレンダーイベントの構造化データを
// 抽出するコラボレーターを提供する。抽出はOpenAI互換のchat completions APIに
// 委譲され、このパッケージはプロンプト構築・レスポンス検証・サニタイズを担う。
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/calendo/internal/model"
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

// Config はExtractorの設定。
type Config struct {
	APIKey string
	Model  string // 例: gpt-3.5-turbo

	// BaseURL はテストやOpenAI互換サーバー用にオーバーライド可能。
	// 空の場合はOpenAIのエンドポイントを使う。
	BaseURL string
}

// Extractor はテキスト→イベント抽出のクライアント。
type Extractor struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	sanitizer  *bluemonday.Policy

	// now はテスト用に差し替え可能な時計。プロンプトの基準日に使う。
	now func() time.Time
}

// NewExtractor はExtractorを生成する。
// httpClientがnilの場合はタイムアウト付きのデフォルトクライアントを使う。
func NewExtractor(config Config, httpClient *http.Client, logger *slog.Logger) *Extractor {
	if config.BaseURL == "" {
		config.BaseURL = defaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Extractor{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		sanitizer:  bluemonday.StrictPolicy(),
		now:        time.Now,
	}
}

// chatRequest はchat completions APIのリクエストボディ。
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse はchat completions APIのレスポンスボディ。
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract は自由テキストとタイムゾーンヒントからイベント下書きを抽出する。
// モデルの出力はJSONとしてパースし、summaryはHTMLタグを除去してから返す。
func (e *Extractor) Extract(ctx context.Context, text, timezone string) (*model.EventDraft, error) {
	reqBody := chatRequest{
		Model: e.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: e.systemPrompt(timezone)},
			{Role: "user", Content: fmt.Sprintf("Extract details from this event: %q", text)},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.logger.Error("イベント抽出APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("extraction API returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse chat response: %w", err)
	}

	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("empty content in extraction response")
	}

	draft, err := e.parseDraft(chatResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return draft, nil
}

// parseDraft はモデル出力のJSONをEventDraftとして検証・サニタイズする。
// モデルがコードフェンスで囲んで返すことがあるため、フェンスは剥がす。
func (e *Extractor) parseDraft(content string) (*model.EventDraft, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var draft model.EventDraft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return nil, fmt.Errorf("model output is not valid JSON: %w", err)
	}

	if draft.Summary == "" || draft.Start == "" || draft.End == "" {
		return nil, fmt.Errorf("model output is missing required event fields")
	}

	if _, err := time.Parse(time.RFC3339, draft.Start); err != nil {
		return nil, fmt.Errorf("model output has invalid start time %q: %w", draft.Start, err)
	}
	if _, err := time.Parse(time.RFC3339, draft.End); err != nil {
		return nil, fmt.Errorf("model output has invalid end time %q: %w", draft.End, err)
	}

	// モデル出力はそのままUIに表示されるため、summaryのHTMLは除去する。
	draft.Summary = strings.TrimSpace(e.sanitizer.Sanitize(draft.Summary))

	return &draft, nil
}

// systemPrompt は基準日とタイムゾーンを埋め込んだシステムプロンプトを構築する。
// 相対日付（明日、来週の金曜など）は基準日から絶対日付に解決させる。
func (e *Extractor) systemPrompt(timezone string) string {
	today := e.now().Format("2006-01-02")
	return strings.TrimSpace(fmt.Sprintf(`
You are an AI that extracts structured calendar event data from natural language.
Today's date is %s. The user's timezone is %s.
If the input says "tomorrow", "next Friday", etc., resolve it into an exact date based on today.

Return ONLY a JSON object with these keys:
- "summary" (string): a short title for the event
- "start" (ISO 8601 string, including date, time, and timezone offset): when the event starts
- "end" (ISO 8601 string, same format as start): when the event ends
- "reminders" (array): list of { "method": "popup", "minutes": number }

If the user doesn't specify an end time, default the event to 1 hour after the start time.

IMPORTANT:
- Include the correct timezone offset for the user's timezone in the start and end times.
- Only return a JSON object, no explanation or extra text.
- Do not create recurring events, even if the user asks.

Only return valid, parsable JSON.`, today, timezone))
}
