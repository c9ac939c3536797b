package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/formflow/formflow-engine/types"
)

const (
	definitionPrefix = "definition:"
	submissionPrefix = "submission:"
	executionPrefix  = "execution:"

	// index lists, RPUSH order = first-save order
	formDefinitionsPrefix      = "form_definitions:"
	submissionExecutionsPrefix = "submission_executions:"
)

// ErrNotFound is returned when a requested resource is not found.
var ErrNotFound = errors.New("resource not found")

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// setJSON saves a value to Redis with the given key prefix and ID.
func (s *RedisStorage) setJSON(ctx context.Context, prefix string, id uint64, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s%d: %v", prefix, id, err)
		}
		key := fmt.Sprintf("%s%d", prefix, id)
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// getJSON retrieves and unmarshals a value from Redis with the given key prefix and ID.
func getJSON[T any](ctx context.Context, client *redis.Client, prefix string, id uint64) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		key := fmt.Sprintf("%s%d", prefix, id)
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", ErrNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// listByIndex loads all records whose IDs are stored in the given index list,
// preserving list order. IDs whose record has been deleted are skipped.
func listByIndex[T any](ctx context.Context, client *redis.Client, indexKey, prefix string) ([]T, error) {
	return withContext(ctx, func() ([]T, error) {
		ids, err := client.LRange(ctx, indexKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read index %s: %v", indexKey, err)
		}

		items := make([]T, 0, len(ids))
		for _, id := range ids {
			data, err := client.Get(ctx, prefix+id).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get %s%s: %v", prefix, id, err)
			}
			var item T
			if err := json.Unmarshal(data, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s%s: %v", prefix, id, err)
			}
			items = append(items, item)
		}
		return items, nil
	})
}

// SaveDefinition saves a workflow definition to Redis and indexes it under its form.
func (s *RedisStorage) SaveDefinition(ctx context.Context, def types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		key := fmt.Sprintf("%s%d", definitionPrefix, def.ID)
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check %s: %v", key, err)
		}
		if err := s.setJSON(ctx, definitionPrefix, def.ID, def); err != nil {
			return err
		}
		if exists == 0 {
			indexKey := fmt.Sprintf("%s%d", formDefinitionsPrefix, def.FormID)
			if err := s.client.RPush(ctx, indexKey, def.ID).Err(); err != nil {
				return fmt.Errorf("failed to index definition %d: %v", def.ID, err)
			}
		}
		return nil
	})
}

// GetDefinition retrieves a workflow definition from Redis.
func (s *RedisStorage) GetDefinition(ctx context.Context, id uint64) (types.WorkflowDefinition, error) {
	return getJSON[types.WorkflowDefinition](ctx, s.client, definitionPrefix, id)
}

// DeleteDefinition removes a workflow definition and its form index entry.
func (s *RedisStorage) DeleteDefinition(ctx context.Context, id uint64) error {
	return withContextError(ctx, func() error {
		def, err := getJSON[types.WorkflowDefinition](ctx, s.client, definitionPrefix, id)
		if err != nil {
			return err
		}
		indexKey := fmt.Sprintf("%s%d", formDefinitionsPrefix, def.FormID)
		pipe := s.client.Pipeline()
		pipe.Del(ctx, fmt.Sprintf("%s%d", definitionPrefix, id))
		pipe.LRem(ctx, indexKey, 0, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete definition %d: %v", id, err)
		}
		return nil
	})
}

// ListDefinitionsByForm returns all definitions for a form in first-save order.
func (s *RedisStorage) ListDefinitionsByForm(ctx context.Context, formID uint64) ([]types.WorkflowDefinition, error) {
	indexKey := fmt.Sprintf("%s%d", formDefinitionsPrefix, formID)
	return listByIndex[types.WorkflowDefinition](ctx, s.client, indexKey, definitionPrefix)
}

// SaveSubmission saves a form submission to Redis.
func (s *RedisStorage) SaveSubmission(ctx context.Context, sub types.FormSubmission) error {
	return s.setJSON(ctx, submissionPrefix, sub.ID, sub)
}

// GetSubmission retrieves a form submission from Redis.
func (s *RedisStorage) GetSubmission(ctx context.Context, id uint64) (types.FormSubmission, error) {
	return getJSON[types.FormSubmission](ctx, s.client, submissionPrefix, id)
}

// SaveExecution saves a workflow execution to Redis and indexes it under its submission.
func (s *RedisStorage) SaveExecution(ctx context.Context, exec types.WorkflowExecution) error {
	return withContextError(ctx, func() error {
		key := fmt.Sprintf("%s%d", executionPrefix, exec.ID)
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check %s: %v", key, err)
		}
		if err := s.setJSON(ctx, executionPrefix, exec.ID, exec); err != nil {
			return err
		}
		if exists == 0 {
			indexKey := fmt.Sprintf("%s%d", submissionExecutionsPrefix, exec.SubmissionID)
			if err := s.client.RPush(ctx, indexKey, exec.ID).Err(); err != nil {
				return fmt.Errorf("failed to index execution %d: %v", exec.ID, err)
			}
		}
		return nil
	})
}

// GetExecution retrieves a workflow execution from Redis.
func (s *RedisStorage) GetExecution(ctx context.Context, id uint64) (types.WorkflowExecution, error) {
	return getJSON[types.WorkflowExecution](ctx, s.client, executionPrefix, id)
}

// ListExecutionsBySubmission returns all executions for a submission in first-save order.
func (s *RedisStorage) ListExecutionsBySubmission(ctx context.Context, submissionID uint64) ([]types.WorkflowExecution, error) {
	indexKey := fmt.Sprintf("%s%d", submissionExecutionsPrefix, submissionID)
	return listByIndex[types.WorkflowExecution](ctx, s.client, indexKey, executionPrefix)
}

// SaveDefinitions saves multiple definitions to Redis using pipelining.
func (s *RedisStorage) SaveDefinitions(ctx context.Context, defs []types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		for _, def := range defs {
			if err := s.SaveDefinition(ctx, def); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeFinishedExecutions removes executions with "COMPLETED" or "FAILED" status from Redis.
func (s *RedisStorage) PurgeFinishedExecutions(ctx context.Context) error {
	return withContextError(ctx, func() error {
		keys, err := s.client.Keys(ctx, executionPrefix+"*").Result()
		if err != nil {
			return fmt.Errorf("failed to scan execution keys: %v", err)
		}

		if len(keys) == 0 {
			return nil
		}

		pipe := s.client.Pipeline()
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return fmt.Errorf("failed to get %s: %v", key, err)
			}

			var exec types.WorkflowExecution
			if err := json.Unmarshal(data, &exec); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}

			if exec.Status == "COMPLETED" || exec.Status == "FAILED" {
				pipe.Del(ctx, key)
				indexKey := fmt.Sprintf("%s%d", submissionExecutionsPrefix, exec.SubmissionID)
				pipe.LRem(ctx, indexKey, 0, exec.ID)
			}
		}

		if _, err = pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
