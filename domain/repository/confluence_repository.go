package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pyama86/autoheal/domain/entity"
	"github.com/russross/blackfriday/v2"
	goconfluence "github.com/virtomize/confluence-go-api"
)

type ConfluenceConfig struct {
	AncestorID  string `mapstructure:"ancestor_id"`
	Space       string `mapstructure:"space"`
	Domain      string `mapstructure:"domain"`
	MinSeverity int    `mapstructure:"min_severity"`
	// 空なら https://<domain>.atlassian.net/wiki/rest/api
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

const defaultConfluenceTimeout = 10 * time.Second

func (c ConfluenceConfig) endpoint() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fmt.Sprintf("https://%s.atlassian.net/wiki/rest/api", c.Domain)
}

// NewAPIWithClient は認証情報を持たないので transport で付ける
type basicAuthTransport struct {
	user, password string
	base           http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.user, t.password)
	return t.base.RoundTrip(r)
}

type pageCreator interface {
	CreateContent(c *goconfluence.Content) (*goconfluence.Content, error)
}

type ConfluenceRepository struct {
	ansectorID  string
	spaceKey    string
	minSeverity int
	client      pageCreator
	policy      *bluemonday.Policy
	now         func() time.Time
}

func NewConfluenceRepository(c ConfluenceConfig, user, password string) (*ConfluenceRepository, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultConfluenceTimeout
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &basicAuthTransport{
			user:     user,
			password: password,
			base:     http.DefaultTransport,
		},
	}
	api, err := goconfluence.NewAPIWithClient(c.endpoint(), client)
	if err != nil {
		return nil, fmt.Errorf("failed to create confluence api: %w", err)
	}
	return newConfluenceRepository(api, c), nil
}

func newConfluenceRepository(client pageCreator, c ConfluenceConfig) *ConfluenceRepository {
	return &ConfluenceRepository{
		ansectorID:  c.AncestorID,
		spaceKey:    c.Space,
		minSeverity: c.MinSeverity,
		client:      client,
		policy:      bluemonday.UGCPolicy(),
		now:         time.Now,
	}
}

// RenderStorage は markdown を Confluence の storage 形式に変換する
func (c *ConfluenceRepository) RenderStorage(markdown string) string {
	html := blackfriday.Run([]byte(markdown))
	return string(c.policy.SanitizeBytes(html))
}

// 重大度が閾値未満の通知はページにしない
func (c *ConfluenceRepository) Notify(ctx context.Context, n entity.Notification) error {
	if n.Severity < c.minSeverity {
		return nil
	}
	title := fmt.Sprintf("%s %s", c.now().Format("2006-01-02 15:04"), n.Subject)
	_, err := c.ExportReport(ctx, title, c.RenderStorage(n.Body))
	return err
}

func (c *ConfluenceRepository) ExportReport(ctx context.Context, title, body string) (string, error) {
	data := &goconfluence.Content{
		Type:  "page",
		Title: title,
		Body: goconfluence.Body{
			Storage: goconfluence.Storage{
				Value:          body,
				Representation: "storage",
			},
		},
		Version: &goconfluence.Version{ // mandatory
			Number: 1,
		},
	}
	if c.ansectorID != "" {
		data.Ancestors = append(data.Ancestors, goconfluence.Ancestor{
			ID: c.ansectorID,
		})
	}

	if c.spaceKey != "" {
		data.Space = &goconfluence.Space{
			Key: c.spaceKey,
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// CreateContent は ctx を受け取らないので待ちきれなければ諦める
	type result struct {
		content *goconfluence.Content
		err     error
	}
	done := make(chan result, 1)
	go func() {
		content, err := c.client.CreateContent(data)
		done <- result{content, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("failed to create confluence page: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("failed to create confluence page: %w", r.err)
		}
		return r.content.ID, nil
	}
}
