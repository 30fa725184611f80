package repository_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goconfluence "github.com/virtomize/confluence-go-api"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/repository"
)

type mockConfluence struct {
	pages []*goconfluence.Content
}

func (m *mockConfluence) CreateContent(c *goconfluence.Content) (*goconfluence.Content, error) {
	m.pages = append(m.pages, c)
	return &goconfluence.Content{ID: "123"}, nil
}

func TestConfluenceNotify(t *testing.T) {
	m := &mockConfluence{}
	now := time.Date(2026, 2, 3, 4, 5, 0, 0, time.UTC)
	r := repository.NewConfluenceRepositoryWithClient(m, repository.ConfluenceConfig{Space: "OPS", AncestorID: "42", MinSeverity: 7}, now)

	require.NoError(t, r.Notify(context.Background(), entity.Notification{Severity: 3, Subject: "minor", Body: "# x"}))
	assert.Empty(t, m.pages)

	body := "# [FAILED] compute X\n\n<script>alert(1)</script>\n\n- item"
	require.NoError(t, r.Notify(context.Background(), entity.Notification{Severity: 8, Subject: "[FAILED] compute X", Body: body}))
	require.Len(t, m.pages, 1)

	page := m.pages[0]
	assert.Equal(t, "2026-02-03 04:05 [FAILED] compute X", page.Title)
	assert.Equal(t, "OPS", page.Space.Key)
	assert.Equal(t, "42", page.Ancestors[0].ID)
	assert.Equal(t, "storage", page.Body.Storage.Representation)
	assert.Contains(t, page.Body.Storage.Value, "<h1>")
	assert.Contains(t, page.Body.Storage.Value, "<li>item</li>")
	assert.NotContains(t, page.Body.Storage.Value, "<script>")
}

func TestConfluenceExportReportHTTP(t *testing.T) {
	var got goconfluence.Content
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pw, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "secret", pw)
		assert.Equal(t, "/wiki/rest/api/content/", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"999"}`))
	}))
	defer srv.Close()

	r, err := repository.NewConfluenceRepository(repository.ConfluenceConfig{
		Space:   "OPS",
		BaseURL: srv.URL + "/wiki/rest/api",
		Timeout: time.Second,
	}, "bot@example.com", "secret")
	require.NoError(t, err)

	id, err := r.ExportReport(context.Background(), "report", "<p>ok</p>")
	require.NoError(t, err)
	assert.Equal(t, "999", id)
	assert.Equal(t, "report", got.Title)
	assert.Equal(t, "OPS", got.Space.Key)
}

func TestConfluenceExportReportStalled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	r, err := repository.NewConfluenceRepository(repository.ConfluenceConfig{
		BaseURL:     srv.URL,
		Timeout:     50 * time.Millisecond,
		MinSeverity: 1,
	}, "bot", "secret")
	require.NoError(t, err)

	t.Run("client timeout", func(t *testing.T) {
		start := time.Now()
		err := r.Notify(context.Background(), entity.Notification{Severity: 9, Subject: "stalled", Body: "x"})
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("context deadline", func(t *testing.T) {
		slow, err := repository.NewConfluenceRepository(repository.ConfluenceConfig{
			BaseURL: srv.URL,
			Timeout: time.Minute,
		}, "bot", "secret")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err = slow.ExportReport(ctx, "stalled", "x")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}
