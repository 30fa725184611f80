package repository

import (
	"time"

	goconfluence "github.com/virtomize/confluence-go-api"
)

func NewConfluenceRepositoryWithClient(client interface {
	CreateContent(*goconfluence.Content) (*goconfluence.Content, error)
}, c ConfluenceConfig, now time.Time) *ConfluenceRepository {
	r := newConfluenceRepository(client, c)
	r.now = func() time.Time { return now }
	return r
}
