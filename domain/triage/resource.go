package triage

import (
	"fmt"
	"slices"

	"github.com/pyama86/autoheal/domain/entity"
)

// Resolver はイベントから対象リソースを導出する
type Resolver struct {
	patterns []entity.ResourcePattern
}

func NewResolver(patterns []entity.ResourcePattern) *Resolver {
	return &Resolver{patterns: patterns}
}

func (r *Resolver) Resolve(ev *entity.Event) (entity.Resource, error) {
	if ev.ResourceType != "" && ev.ResourceID != "" {
		res := entity.Resource{Type: ev.ResourceType, ID: ev.ResourceID}
		if p := r.find(func(p entity.ResourcePattern) bool { return p.Type == ev.ResourceType }); p != nil {
			res.Pipeline = p.Pipeline
		}
		return res, nil
	}

	for _, p := range r.patterns {
		if p.Disabled {
			continue
		}
		if len(p.Sources) > 0 && !slices.Contains(p.Sources, ev.Source) {
			continue
		}
		if len(p.EventNames) > 0 && !slices.Contains(p.EventNames, ev.EventName) {
			continue
		}
		id, ok := ev.ResourceIdentifiers[p.Identifier]
		if !ok || id == "" {
			continue
		}
		return entity.Resource{Type: p.Type, ID: id, Pipeline: p.Pipeline}, nil
	}
	return entity.Resource{}, fmt.Errorf("%w: source=%s event=%s", entity.ErrUnrecognizedEvent, ev.Source, ev.EventName)
}

func (r *Resolver) find(f func(entity.ResourcePattern) bool) *entity.ResourcePattern {
	for i := range r.patterns {
		if !r.patterns[i].Disabled && f(r.patterns[i]) {
			return &r.patterns[i]
		}
	}
	return nil
}
