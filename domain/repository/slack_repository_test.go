package repository_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slacktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/repository"
)

func TestSlackNotify(t *testing.T) {
	var mu sync.Mutex
	var posted []map[string]string
	srv := slacktest.NewTestServer(func(c slacktest.Customize) {
		c.Handle("/auth.test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true,"user_id":"UBOT"}`))
		}))
		c.Handle("/conversations.list", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp := map[string]any{
				"ok": true,
				"channels": []map[string]any{
					{"id": "CALERT", "name": "alerts"},
					{"id": "COTHER", "name": "random"},
				},
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(resp)
		}))
		c.Handle("/chat.postMessage", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			mu.Lock()
			posted = append(posted, map[string]string{
				"channel": r.FormValue("channel"),
				"text":    r.FormValue("text"),
				"blocks":  r.FormValue("blocks"),
			})
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
	})
	go srv.Start()
	defer srv.Stop()

	api := slack.New("dummy", slack.OptionAPIURL(srv.GetAPIURL()))
	r := repository.NewSlackRepository(api, repository.SlackConfig{
		Channel:                "#alerts",
		ChannelMentionSeverity: 9,
		HereMentionSeverity:    7,
		Retry:                  repository.RetryPolicy{Attempts: 1, Timeout: 5 * time.Second},
	})
	defer r.Stop()

	err := r.Notify(context.Background(), entity.Notification{Severity: 7, Subject: "[FAILED] compute X", Body: "body", IncidentID: "i-1"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, posted, 1)
	assert.Equal(t, "CALERT", posted[0]["channel"])
	assert.Equal(t, "<!here> [FAILED] compute X", posted[0]["text"])
	assert.Contains(t, posted[0]["blocks"], "i-1")
}

func TestSlackChannelIDPassthrough(t *testing.T) {
	api := slack.New("dummy", slack.OptionAPIURL("http://127.0.0.1:1/"))
	r := repository.NewSlackRepository(api, repository.SlackConfig{})
	defer r.Stop()

	id, err := r.ChannelID(context.Background(), "C0123ABC")
	require.NoError(t, err)
	assert.Equal(t, "C0123ABC", id)
}
