// Package redis provides Redis persistence. Records are JSON strings; sorted
// sets index workflow versions and execution history.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	keyWorkflows       = "docflow:workflows"
	keyExecutions      = "docflow:executions"
	keyApprovalPending = "docflow:approvals:pending"
)

func workflowVersionKey(id string, version int) string {
	return "docflow:workflow:" + id + ":v" + strconv.Itoa(version)
}

func workflowVersionsKey(id string) string {
	return "docflow:workflow:" + id + ":versions"
}

func executionKey(id string) string {
	return "docflow:execution:" + id
}

func workflowExecutionsKey(workflowID string) string {
	return "docflow:workflow:" + workflowID + ":executions"
}

func approvalKey(id string) string {
	return "docflow:approval:" + id
}

type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	approvalRepo  *ApprovalRepository
}

// NewPersistence connects to the server at redisURL (redis://host:port/db).
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewPersistenceWithClient(client, logger), nil
}

func NewPersistenceWithClient(client redis.UniversalClient, logger *slog.Logger) *Persistence {
	logger = logger.With("module", "redis")

	return &Persistence{
		client:        client,
		logger:        logger,
		workflowRepo:  &WorkflowRepository{client: client},
		executionRepo: &ExecutionRepository{client: client},
		approvalRepo:  &ApprovalRepository{client: client},
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository   { return p.workflowRepo }
func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository { return p.executionRepo }
func (p *Persistence) ApprovalRepository() persistence.ApprovalRepository   { return p.approvalRepo }

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

type WorkflowRepository struct {
	client redis.UniversalClient
}

// SaveVersion claims the version key with SETNX, then indexes it.
func (r *WorkflowRepository) SaveVersion(ctx context.Context, workflow *models.Workflow) error {
	data, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, err)
	}

	ok, err := r.client.SetNX(ctx, workflowVersionKey(workflow.ID, workflow.Version), data, 0).Result()
	if err != nil {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, err)
	}

	if !ok {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, persistence.ErrVersionConflict)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, workflowVersionsKey(workflow.ID), redis.Z{Score: float64(workflow.Version), Member: workflow.Version})
		pipe.SAdd(ctx, keyWorkflows, workflow.ID)

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, err)
	}

	return nil
}

func (r *WorkflowRepository) Latest(ctx context.Context, id string) (*models.Workflow, error) {
	versions, err := r.client.ZRevRange(ctx, workflowVersionsKey(id), 0, 0).Result()
	if err != nil {
		return nil, persistence.NewWorkflowError("Latest", id, err)
	}

	if len(versions) == 0 {
		return nil, persistence.NewWorkflowError("Latest", id, persistence.ErrWorkflowNotFound)
	}

	version, err := strconv.Atoi(versions[0])
	if err != nil {
		return nil, persistence.NewWorkflowError("Latest", id, err)
	}

	return r.Version(ctx, id, version)
}

func (r *WorkflowRepository) Version(ctx context.Context, id string, version int) (*models.Workflow, error) {
	data, err := r.client.Get(ctx, workflowVersionKey(id, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewWorkflowVersionError("Version", id, version, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowVersionError("Version", id, version, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, persistence.NewWorkflowVersionError("Version", id, version, err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	ids, err := r.client.SMembers(ctx, keyWorkflows).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := r.Latest(ctx, id)
		if persistence.IsWorkflowNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if opts.Matches(workflow) {
			workflows = append(workflows, workflow)
		}
	}

	persistence.SortWorkflows(workflows, opts.SortBy, opts.SortOrder)

	return persistence.Paginate(workflows, opts), nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	versions, err := r.client.ZRange(ctx, workflowVersionsKey(id), 0, -1).Result()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if len(versions) == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, v := range versions {
			pipe.Del(ctx, "docflow:workflow:"+id+":v"+v)
		}

		pipe.Del(ctx, workflowVersionsKey(id))
		pipe.SRem(ctx, keyWorkflows, id)

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

type ExecutionRepository struct {
	client redis.UniversalClient
}

func (r *ExecutionRepository) Append(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Append", execution.ID, err)
	}

	ok, err := r.client.SetNX(ctx, executionKey(execution.ID), data, 0).Result()
	if err != nil {
		return persistence.NewExecutionError("Append", execution.ID, err)
	}

	if !ok {
		return persistence.NewExecutionError("Append", execution.ID, persistence.ErrExecutionExists)
	}

	score := float64(execution.StartTime.UnixMilli())

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, keyExecutions, redis.Z{Score: score, Member: execution.ID})
		pipe.ZAdd(ctx, workflowExecutionsKey(execution.WorkflowID), redis.Z{Score: score, Member: execution.ID})

		return nil
	})
	if err != nil {
		return persistence.NewExecutionError("Append", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.Execution, error) {
	data, err := r.client.Get(ctx, executionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	key := keyExecutions
	if opts.WorkflowID != "" {
		key = workflowExecutionsKey(opts.WorkflowID)
	}

	minScore := "-inf"
	if !opts.Since.IsZero() {
		minScore = strconv.FormatInt(opts.Since.UnixMilli(), 10)
	}

	ids, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: minScore, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	if len(ids) == 0 {
		return make([]*models.Execution, 0), nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = executionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}

	out := make([]*models.Execution, 0, len(values))

	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}

		var execution models.Execution
		if err := json.Unmarshal([]byte(s), &execution); err != nil {
			return nil, fmt.Errorf("failed to decode execution: %w", err)
		}

		if opts.Matches(&execution) {
			out = append(out, &execution)
		}
	}

	return persistence.SortExecutions(out, opts.Limit), nil
}

type ApprovalRepository struct {
	client redis.UniversalClient
}

func (r *ApprovalRepository) Save(ctx context.Context, approval *models.ApprovalWorkflow) error {
	data, err := json.Marshal(approval)
	if err != nil {
		return persistence.NewApprovalError("Save", approval.ID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, approvalKey(approval.ID), data, 0)

		if approval.Status == models.ApprovalPending {
			pipe.ZAdd(ctx, keyApprovalPending, redis.Z{Score: float64(approval.CreatedAt.UnixMilli()), Member: approval.ID})
		} else {
			pipe.ZRem(ctx, keyApprovalPending, approval.ID)
		}

		return nil
	})
	if err != nil {
		return persistence.NewApprovalError("Save", approval.ID, err)
	}

	return nil
}

func (r *ApprovalRepository) ByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	data, err := r.client.Get(ctx, approvalKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewApprovalError("ByID", id, persistence.ErrApprovalNotFound)
	}

	if err != nil {
		return nil, persistence.NewApprovalError("ByID", id, err)
	}

	var approval models.ApprovalWorkflow
	if err := json.Unmarshal(data, &approval); err != nil {
		return nil, persistence.NewApprovalError("ByID", id, err)
	}

	return &approval, nil
}

func (r *ApprovalRepository) Pending(ctx context.Context) ([]*models.ApprovalWorkflow, error) {
	ids, err := r.client.ZRange(ctx, keyApprovalPending, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	out := make([]*models.ApprovalWorkflow, 0, len(ids))

	for _, id := range ids {
		approval, err := r.ByID(ctx, id)
		if persistence.IsApprovalNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, approval)
	}

	return out, nil
}
