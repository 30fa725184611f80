package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
	"github.com/pyama86/autoheal/domain/repository"
)

// RecoveryDispatcher はインシデントから起動するパイプラインを決めて依頼する
type RecoveryDispatcher struct {
	repo            repository.DispatchRepository
	defaultPipeline string
	callbackBaseURL string
}

func NewRecoveryDispatcher(repo repository.DispatchRepository, defaultPipeline, callbackBaseURL string) *RecoveryDispatcher {
	return &RecoveryDispatcher{
		repo:            repo,
		defaultPipeline: defaultPipeline,
		callbackBaseURL: strings.TrimRight(callbackBaseURL, "/"),
	}
}

func (d *RecoveryDispatcher) Dispatch(ctx context.Context, inc *entity.Incident, res entity.Resource) (string, error) {
	pipeline := res.Pipeline
	if pipeline == "" {
		pipeline = d.defaultPipeline
	}
	if pipeline == "" {
		return "", fmt.Errorf("%w: no pipeline for resource type %s", entity.ErrDispatch, res.Type)
	}

	req := model.DispatchRequest{
		IncidentID:     inc.IncidentID,
		Pipeline:       pipeline,
		ResourceType:   res.Type,
		ResourceID:     res.ID,
		Classification: inc.Classification,
		Severity:       inc.Severity,
		Reasoning:      inc.Reasoning,
	}
	if d.callbackBaseURL != "" {
		req.CallbackURL = fmt.Sprintf("%s/v1/incidents/%s/verification", d.callbackBaseURL, inc.IncidentID)
	}
	return d.repo.Dispatch(ctx, req)
}
