package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestRefresher はテスト用のRefresherを生成する。
// tokenURLにテストサーバーのURLを指定し、時計を固定する。
func newTestRefresher(tokenURL string, now time.Time) *Refresher {
	rf := NewRefresher(RefresherConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokenURL,
	}, nil, nil)
	rf.now = func() time.Time { return now }
	return rf
}

func TestRefresh_NoRefreshToken_SkipsNetworkCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	now := time.Now()
	rf := newTestRefresher(server.URL, now)

	// リフレッシュトークンなし、かつ大幅に失効済み
	cred := Credential{
		AccessToken: "stale-access",
		ExpiresAt:   now.Add(-2 * time.Hour),
	}

	got := rf.Refresh(context.Background(), cred)

	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("token endpoint was called %d times, want 0", calls)
	}
	// 失効済みでもクレデンシャルはそのまま通す
	if got != cred {
		t.Errorf("Refresh() = %+v, want unchanged %+v", got, cred)
	}
}

func TestRefresh_TokenStillFresh_NoOp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	now := time.Now()
	rf := newTestRefresher(server.URL, now)

	// 有効期限まで10分: 5分ウィンドウの手前なので発火しない
	cred := Credential{
		AccessToken:  "fresh-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(10 * time.Minute),
	}

	got := rf.Refresh(context.Background(), cred)

	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("token endpoint was called %d times, want 0", calls)
	}
	if got != cred {
		t.Errorf("Refresh() = %+v, want unchanged %+v", got, cred)
	}
}

func TestRefresh_Idempotent_RepeatedCallsReturnSameCredential(t *testing.T) {
	now := time.Now()
	rf := newTestRefresher("http://unused.invalid", now)

	cred := Credential{
		AccessToken:  "fresh-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Hour),
	}

	first := rf.Refresh(context.Background(), cred)
	second := rf.Refresh(context.Background(), first)

	if first != cred || second != cred {
		t.Errorf("repeated no-op refresh changed the credential: %+v -> %+v -> %+v", cred, first, second)
	}
}

func TestRefresh_WithinWindow_ExchangesSuccessfully(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want %q", got, "refresh_token")
		}
		if got := r.Form.Get("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q, want %q", got, "refresh-1")
		}
		if got := r.Form.Get("client_id"); got != "client-id" {
			t.Errorf("client_id = %q, want %q", got, "client-id")
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "renewed-access",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	now := time.Now()
	rf := newTestRefresher(server.URL, now)

	// 有効期限まで3分: 5分ウィンドウ内なので発火する
	cred := Credential{
		AccessToken:  "expiring-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(3 * time.Minute),
		Error:        ErrRefreshTransport, // 以前の一時障害タグはクリアされる
	}

	got := rf.Refresh(context.Background(), cred)

	if got.AccessToken != "renewed-access" {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, "renewed-access")
	}
	if got.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want preserved %q", got.RefreshToken, "refresh-1")
	}
	if !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, now.Add(time.Hour))
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want cleared", got.Error)
	}
}

func TestRefresh_ExpiredToken_AlsoTriggersExchange(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "renewed-access",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	now := time.Now()
	rf := newTestRefresher(server.URL, now)

	cred := Credential{
		AccessToken:  "long-gone",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(-24 * time.Hour),
	}

	got := rf.Refresh(context.Background(), cred)

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("token endpoint was called %d times, want 1", calls)
	}
	if got.AccessToken != "renewed-access" {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, "renewed-access")
	}
}

func TestRefresh_ProviderRejection_InvalidatesCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "invalid_grant",
		})
	}))
	defer server.Close()

	now := time.Now()
	rf := newTestRefresher(server.URL, now)

	cred := Credential{
		AccessToken:  "expiring-access",
		RefreshToken: "revoked-refresh",
		ExpiresAt:    now.Add(time.Minute),
	}

	got := rf.Refresh(context.Background(), cred)

	if got.Error != "invalid_grant" {
		t.Errorf("Error = %q, want %q", got.Error, "invalid_grant")
	}
	// 失効の確定: トークンフィールドはすべてクリアされる
	if got.AccessToken != "" {
		t.Errorf("AccessToken = %q, want cleared", got.AccessToken)
	}
	if got.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want cleared", got.RefreshToken)
	}
	if !got.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", got.ExpiresAt)
	}
}

func TestRefresh_ProviderRejectionWithoutErrorCode_UsesDefaultTag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("service unavailable"))
	}))
	defer server.Close()

	now := time.Now()
	rf := newTestRefresher(server.URL, now)

	cred := Credential{
		AccessToken:  "expiring-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Minute),
	}

	got := rf.Refresh(context.Background(), cred)

	if got.Error != ErrRefreshFailed {
		t.Errorf("Error = %q, want %q", got.Error, ErrRefreshFailed)
	}
}

func TestRefresh_TransportFailure_KeepsTokenFields(t *testing.T) {
	// 接続を受け付けないURLでトランスポート障害をシミュレートする
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	now := time.Now()
	rf := newTestRefresher(server.URL, now)

	cred := Credential{
		AccessToken:  "expiring-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Minute),
	}

	got := rf.Refresh(context.Background(), cred)

	if got.Error != ErrRefreshTransport {
		t.Errorf("Error = %q, want %q", got.Error, ErrRefreshTransport)
	}
	// 一時障害: トークンフィールドは保持される
	if got.AccessToken != "expiring-access" {
		t.Errorf("AccessToken = %q, want retained %q", got.AccessToken, "expiring-access")
	}
	if got.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want retained %q", got.RefreshToken, "refresh-1")
	}
	if !got.ExpiresAt.Equal(cred.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want retained %v", got.ExpiresAt, cred.ExpiresAt)
	}
}

// recordingMetrics はメトリクスフックの呼び出しを記録するテストダブル。
type recordingMetrics struct {
	successes int
	failures  []string
	latencies int
}

func (m *recordingMetrics) RecordRefreshSuccess() { m.successes++ }

func (m *recordingMetrics) RecordRefreshFailure(reason string) {
	m.failures = append(m.failures, reason)
}

func (m *recordingMetrics) RecordRefreshLatency(duration time.Duration) { m.latencies++ }

var _ RefreshMetrics = (*recordingMetrics)(nil)

func TestRefresh_RecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "renewed-access",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	metrics := &recordingMetrics{}
	now := time.Now()
	rf := NewRefresher(RefresherConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL,
	}, nil, metrics)
	rf.now = func() time.Time { return now }

	cred := Credential{
		AccessToken:  "expiring-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Minute),
	}

	rf.Refresh(context.Background(), cred)

	if metrics.successes != 1 {
		t.Errorf("successes = %d, want 1", metrics.successes)
	}
	if metrics.latencies != 1 {
		t.Errorf("latency observations = %d, want 1", metrics.latencies)
	}
	if len(metrics.failures) != 0 {
		t.Errorf("failures = %v, want none", metrics.failures)
	}
}
