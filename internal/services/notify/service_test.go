package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/wpsnap/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func successReport() models.SnapshotReport {
	return models.SnapshotReport{
		Run: models.RunContext{
			ID:        "2f1c3b9e-8a51-4a7e-9d0b-5c3e2f1a0b9c",
			StartedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		Domain:   "localhost:8080",
		Success:  true,
		Duration: 42 * time.Second,
		Archive: &models.ArchiveResult{
			Path:      "app.zip",
			Files:     1532,
			SizeBytes: 25_000_000,
		},
		Dump: &models.DumpResult{
			OutputPath: "dump_2024-01-15T10-30-00.sql",
			SizeBytes:  3_400_000,
		},
		Replacements: 17,
	}
}

func TestSendReport_PostsToTelegramAPI(t *testing.T) {
	var capturedPath string
	var capturedBody sendMessageRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	svc := NewWithClient(testLogger(), server.Client(), server.URL)
	result, err := svc.SendReport(context.Background(), testConfig(), successReport())

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.NoError(t, result.Error)
	assert.Equal(t, "/bot123456:ABC-DEF/sendMessage", capturedPath)
	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "Snapshot Successful")
}

func TestSendReport_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")
	result, err := svc.SendReport(context.Background(), testConfig(), successReport())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
}

func TestSendReport_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	svc := NewWithClient(testLogger(), server.Client(), server.URL)
	result, err := svc.SendReport(context.Background(), testConfig(), successReport())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
}

func TestSendReport_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, req.Context().Err()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")
	result, err := svc.SendReport(ctx, testConfig(), successReport())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestFormatReport_Success(t *testing.T) {
	text := formatReport(successReport())

	assert.Contains(t, text, "Snapshot Successful")
	assert.Contains(t, text, "localhost:8080")
	assert.Contains(t, text, "2f1c3b9e-8a51-4a7e-9d0b-5c3e2f1a0b9c")
	assert.Contains(t, text, "2024-01-15 10:30:00")
	assert.Contains(t, text, "42s")
	assert.Contains(t, text, "1532 files, 25 MB")
	assert.Contains(t, text, "dump_2024-01-15T10-30-00.sql (3.4 MB)")
	assert.Contains(t, text, "URL replacements: 17")
	assert.NotContains(t, text, "Published")
}

func TestFormatReport_Published(t *testing.T) {
	report := successReport()
	report.Published = true

	assert.Contains(t, formatReport(report), "Published: yes")
}

func TestFormatReport_Failure(t *testing.T) {
	report := models.SnapshotReport{
		Run:          models.RunContext{ID: "run-1", StartedAt: time.Now()},
		Domain:       "localhost:8080",
		Duration:     time.Second,
		FailedStep:   "gate",
		ErrorMessage: "database <db> unreachable",
	}

	text := formatReport(report)

	assert.Contains(t, text, "Snapshot Failed")
	assert.Contains(t, text, "Failed step: gate")
	assert.Contains(t, text, "database &lt;db&gt; unreachable")
	assert.NotContains(t, text, "Artifacts")
}

func TestFormatReport_EscapesUserText(t *testing.T) {
	report := models.SnapshotReport{
		Run:          models.RunContext{ID: "run-1", StartedAt: time.Now()},
		Domain:       "a&b.example",
		FailedStep:   "dump",
		ErrorMessage: `mysqldump: "<wp>" can't connect`,
	}

	text := formatReport(report)

	assert.Contains(t, text, "a&amp;b.example")
	assert.Contains(t, text, "mysqldump: &#34;&lt;wp&gt;&#34; can&#39;t connect")
	assert.NotContains(t, text, "<wp>")
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", formatSize(0))
	assert.Equal(t, "0 B", formatSize(-5))
	assert.Equal(t, "1.0 kB", formatSize(1000))
	assert.Equal(t, "25 MB", formatSize(25_000_000))
}
