package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

const DefaultTTL = 24 * time.Hour

// Store keeps job state in Redis under idp:job:<id>:{meta,status,result,error}.
// Every write refreshes the TTL, so a job expires TTL after its last update
// and then reads as not found.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

func New(client *goredis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, prefix: "idp:job:", ttl: ttl}
}

// Connect dials Redis and pings it once.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (s *Store) key(jobID, field string) string {
	return s.prefix + jobID + ":" + field
}

func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	meta, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job meta: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key(job.ID, "meta"), meta, s.ttl)
		pipe.Set(ctx, s.key(job.ID, "status"), string(job.Status), s.ttl)
		pipe.Del(ctx, s.key(job.ID, "result"), s.key(job.ID, "error"))
		return nil
	})
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "redis create job", err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	ok, err := s.client.SetXX(ctx, s.key(jobID, "status"), string(status), s.ttl).Result()
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "redis update status", err)
	}
	if !ok {
		return domain.WrapError(domain.ErrJobNotFound, "redis update status", fmt.Errorf("job %s", jobID))
	}
	if err := s.client.Expire(ctx, s.key(jobID, "meta"), s.ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "redis refresh job ttl", err)
	}
	return nil
}

func (s *Store) SaveResult(ctx context.Context, jobID string, result *domain.JobResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key(jobID, "result"), raw, s.ttl)
		pipe.Del(ctx, s.key(jobID, "error"))
		return nil
	})
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "redis save result", err)
	}
	return nil
}

func (s *Store) SaveError(ctx context.Context, jobID string, message string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key(jobID, "error"), message, s.ttl)
		pipe.Del(ctx, s.key(jobID, "result"))
		return nil
	})
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "redis save error", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*domain.JobState, error) {
	values, err := s.client.MGet(ctx,
		s.key(jobID, "status"),
		s.key(jobID, "result"),
		s.key(jobID, "error"),
	).Result()
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "redis get job", err)
	}

	status, ok := values[0].(string)
	if !ok || status == "" {
		return nil, domain.WrapError(domain.ErrJobNotFound, "redis get job", fmt.Errorf("job %s", jobID))
	}

	state := &domain.JobState{JobID: jobID, Status: domain.JobStatus(status)}
	if raw, ok := values[1].(string); ok && raw != "" {
		var result domain.JobResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
		state.Result = &result
	}
	if msg, ok := values[2].(string); ok {
		state.Error = &msg
	}
	return state, nil
}
