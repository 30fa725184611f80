package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/guregu/dynamo/v2"
	"github.com/pyama86/autoheal/domain/entity"
)

const (
	resourceKeyIndex   = "resource_key-index"
	resourceTypeIndex  = "resource_type-index"
	workflowStateIndex = "workflow_state-index"
)

type DynamoDBConfig struct {
	IncidentsTable string        `mapstructure:"incidents_table" validate:"required"`
	BaselinesTable string        `mapstructure:"baselines_table" validate:"required"`
	Region         string        `mapstructure:"region"`
	Endpoint       string        `mapstructure:"endpoint"`
	Retry          RetryPolicy   `mapstructure:",squash"`
	SetupTimeout   time.Duration `mapstructure:"setup_timeout"`
}

type DynamoDBRepository struct {
	db             *dynamo.DB
	incidentsTable string
	baselinesTable string
	retry          RetryPolicy
}

func NewDynamoDBRepository(ctx context.Context, c DynamoDBConfig) (*DynamoDBRepository, error) {
	endpoint := c.Endpoint
	if endpoint == "" && os.Getenv("DYNAMO_LOCAL") != "" {
		endpoint = "http://localhost:8000"
	}

	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if endpoint != "" {
		if c.Region == "" {
			opts = append(opts, config.WithRegion("dummy"))
		}
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "dummy")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	clientOpt := func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}
	r := &DynamoDBRepository{
		db:             dynamo.New(cfg, clientOpt),
		incidentsTable: c.IncidentsTable,
		baselinesTable: c.BaselinesTable,
		retry:          c.Retry,
	}

	if endpoint != "" {
		timeout := c.SetupTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := r.setupSchema(sctx, dynamodb.NewFromConfig(cfg, clientOpt)); err != nil {
			return nil, fmt.Errorf("failed to setup schema: %w", err)
		}
	}
	return r, nil
}

func gsi(name, hash, rng string) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName: aws.String(name),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange},
		},
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func attr(name string, t types.ScalarAttributeType) types.AttributeDefinition {
	return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: t}
}

// ローカル環境向けにテーブルとインデックスを作成する
func (r *DynamoDBRepository) setupSchema(ctx context.Context, client *dynamodb.Client) error {
	tables := []dynamodb.CreateTableInput{
		{
			TableName: aws.String(r.incidentsTable),
			AttributeDefinitions: []types.AttributeDefinition{
				attr("incident_id", types.ScalarAttributeTypeS),
				attr("resource_key", types.ScalarAttributeTypeS),
				attr("resource_type", types.ScalarAttributeTypeS),
				attr("workflow_state", types.ScalarAttributeTypeS),
				attr("created_at", types.ScalarAttributeTypeN),
				attr("updated_at", types.ScalarAttributeTypeN),
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("incident_id"), KeyType: types.KeyTypeHash},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(resourceKeyIndex, "resource_key", "created_at"),
				gsi(resourceTypeIndex, "resource_type", "created_at"),
				gsi(workflowStateIndex, "workflow_state", "updated_at"),
			},
			BillingMode: types.BillingModePayPerRequest,
		},
		{
			TableName: aws.String(r.baselinesTable),
			AttributeDefinitions: []types.AttributeDefinition{
				attr("baseline_key", types.ScalarAttributeTypeS),
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("baseline_key"), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		},
	}

	for _, in := range tables {
		if _, err := r.db.Table(*in.TableName).Describe().Run(ctx); err == nil {
			continue
		}
		if _, err := client.CreateTable(ctx, &in); err != nil {
			return fmt.Errorf("failed to create table %s: %w", *in.TableName, err)
		}
	}
	return nil
}

func (r *DynamoDBRepository) Close() error {
	return nil
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", entity.ErrStoreUnavailable, err)
}

func (r *DynamoDBRepository) CreateIncident(ctx context.Context, inc *entity.Incident) error {
	attempt := 0
	return r.retry.Do(ctx, "dynamodb.create_incident", func(ctx context.Context) error {
		attempt++
		err := r.db.Table(r.incidentsTable).Put(inc).If("attribute_not_exists(incident_id)").Run(ctx)
		if err == nil {
			return nil
		}
		if !dynamo.IsCondCheckFailed(err) {
			return storeErr(err)
		}
		// 前回の試行が書き込み済みだった可能性がある
		if attempt > 1 {
			existing, ferr := r.FindIncident(ctx, inc.IncidentID)
			if ferr == nil && existing != nil && existing.CreatedAt.Unix() == inc.CreatedAt.Unix() && string(existing.RawEvent) == string(inc.RawEvent) {
				return nil
			}
		}
		return Permanent(fmt.Errorf("%w: %s", entity.ErrDuplicateIncident, inc.IncidentID))
	})
}

func (r *DynamoDBRepository) FindIncident(ctx context.Context, id string) (*entity.Incident, error) {
	var inc entity.Incident
	err := r.retry.Do(ctx, "dynamodb.find_incident", func(ctx context.Context) error {
		err := r.db.Table(r.incidentsTable).Get("incident_id", id).One(ctx, &inc)
		if errors.Is(err, dynamo.ErrNotFound) {
			return Permanent(err)
		}
		return storeErr(err)
	})
	if err != nil {
		if errors.Is(err, dynamo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inc, nil
}

func (r *DynamoDBRepository) TransitionIncident(ctx context.Context, id string, u entity.IncidentUpdate) (*entity.Incident, error) {
	if !u.From.CanTransitionTo(u.To) {
		return nil, fmt.Errorf("%w: %s -> %s", entity.ErrIllegalTransition, u.From, u.To)
	}

	var out entity.Incident
	err := r.retry.Do(ctx, "dynamodb.transition_incident", func(ctx context.Context) error {
		q := r.db.Table(r.incidentsTable).Update("incident_id", id).
			Set("workflow_state", u.To).
			Set("updated_at", u.At.Unix()).
			Append("transitions", []entity.Transition{u.Transition()}).
			If("attribute_exists(incident_id)").
			If("'workflow_state' = ?", u.From)
		if u.Analysis != nil {
			q = q.Set("classification", u.Analysis.Classification).
				Set("confidence", u.Analysis.Confidence).
				Set("severity", u.Analysis.Severity).
				Set("reasoning", u.Analysis.Reasoning).
				If("attribute_not_exists(classification)")
			if u.Analysis.PredictedImpact != "" {
				q = q.Set("predicted_impact", u.Analysis.PredictedImpact)
			}
		}
		if u.Decision != "" {
			q = q.Set("decision", u.Decision).If("attribute_not_exists(decision)")
		}
		if u.DispatchRef != "" {
			q = q.Set("recovery_dispatch_ref", u.DispatchRef)
		}
		if u.Outcome != nil {
			q = q.Set("outcome", u.Outcome).If("attribute_not_exists(outcome)")
		}
		if u.Reason != "" {
			q = q.Set("reason", u.Reason)
		}
		if u.Error != "" {
			q = q.Set("error", u.Error)
		}

		err := q.Value(ctx, &out)
		if err == nil {
			return nil
		}
		if !dynamo.IsCondCheckFailed(err) {
			return storeErr(err)
		}

		current, ferr := r.FindIncident(ctx, id)
		if ferr != nil {
			return ferr
		}
		if current == nil {
			return Permanent(fmt.Errorf("%w: %s", entity.ErrIncidentNotFound, id))
		}
		if current.HasApplied(u) {
			out = *current
			return nil
		}
		// 状態の不一致か設定済みフィールドの上書き
		if aerr := current.Apply(u); aerr != nil {
			return Permanent(aerr)
		}
		return fmt.Errorf("%w: concurrent update on %s", entity.ErrStoreUnavailable, id)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *DynamoDBRepository) queryIndex(ctx context.Context, name, index, hashKey, hashValue, rangeKey string, op dynamo.Operator, at time.Time, order dynamo.Order) ([]entity.Incident, error) {
	var incidents []entity.Incident
	err := r.retry.Do(ctx, name, func(ctx context.Context) error {
		incidents = nil
		return storeErr(r.db.Table(r.incidentsTable).
			Get(hashKey, hashValue).
			Index(index).
			Range(rangeKey, op, at.Unix()).
			Order(order).
			All(ctx, &incidents))
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *DynamoDBRepository) IncidentsByResource(ctx context.Context, key string, since time.Time) ([]entity.Incident, error) {
	return r.queryIndex(ctx, "dynamodb.incidents_by_resource", resourceKeyIndex, "resource_key", key, "created_at", dynamo.GreaterOrEqual, since, dynamo.Ascending)
}

// 1ページで評価する件数の下限
const minContextPageSize = 20

// SearchLimit で1ページずつ読み、q.Limit 件揃ったら次のページを取りに行かない
func (r *DynamoDBRepository) RecentIncidentsByType(ctx context.Context, q ContextQuery) ([]entity.Incident, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	pageSize := max(q.Limit*2, minContextPageSize)

	var incidents []entity.Incident
	err := r.retry.Do(ctx, "dynamodb.incidents_by_type", func(ctx context.Context) error {
		incidents = nil
		var start dynamo.PagingKey
		for {
			query := r.db.Table(r.incidentsTable).
				Get("resource_type", q.ResourceType).
				Index(resourceTypeIndex).
				Range("created_at", dynamo.GreaterOrEqual, q.Since.Unix()).
				Order(dynamo.Descending).
				SearchLimit(pageSize)
			if q.ExcludeID != "" {
				query = query.Filter("'incident_id' <> ?", q.ExcludeID)
			}
			if len(q.Classifications) > 0 {
				args := make([]interface{}, 0, len(q.Classifications))
				for _, c := range q.Classifications {
					args = append(args, c)
				}
				placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
				query = query.Filter("'classification' IN ("+placeholders+")", args...)
			}
			if start != nil {
				query = query.StartFrom(start)
			}

			var page []entity.Incident
			lek, err := query.AllWithLastEvaluatedKey(ctx, &page)
			if err != nil {
				return storeErr(err)
			}
			for i := range page {
				incidents = append(incidents, page[i])
				if len(incidents) == q.Limit {
					return nil
				}
			}
			if lek == nil {
				return nil
			}
			start = lek
		}
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *DynamoDBRepository) IncidentsByState(ctx context.Context, state entity.WorkflowState, updatedBefore time.Time) ([]entity.Incident, error) {
	return r.queryIndex(ctx, "dynamodb.incidents_by_state", workflowStateIndex, "workflow_state", string(state), "updated_at", dynamo.Less, updatedBefore, dynamo.Ascending)
}

func (r *DynamoDBRepository) FindBaseline(ctx context.Context, key string) (*entity.Baseline, error) {
	var b entity.Baseline
	err := r.retry.Do(ctx, "dynamodb.find_baseline", func(ctx context.Context) error {
		err := r.db.Table(r.baselinesTable).Get("baseline_key", key).One(ctx, &b)
		if errors.Is(err, dynamo.ErrNotFound) {
			return Permanent(err)
		}
		return storeErr(err)
	})
	if err != nil {
		if errors.Is(err, dynamo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// 条件付き書き込みは1回だけ。競合したら呼び出し側が読み直す
func (r *DynamoDBRepository) SaveBaseline(ctx context.Context, b *entity.Baseline, expected int64) error {
	put := r.db.Table(r.baselinesTable).Put(b)
	if expected == 0 {
		put = put.If("attribute_not_exists(baseline_key)")
	} else {
		put = put.If("'sample_count' = ?", expected)
	}

	tctx := ctx
	if r.retry.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.retry.Timeout)
		defer cancel()
	}
	err := put.Run(tctx)
	if dynamo.IsCondCheckFailed(err) {
		return fmt.Errorf("%w: %s", entity.ErrBaselineConflict, b.BaselineKey)
	}
	return storeErr(err)
}
