package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"github.com/raid-guild/arcmeter-go/types"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists runs. Save replaces the whole record.
type RunStore interface {
	Save(ctx context.Context, run types.AgentRun) error
	Get(ctx context.Context, runID string) (types.AgentRun, error)
	// List returns every run, newest first.
	List(ctx context.Context) ([]types.AgentRun, error)
}

// MemoryRunStore keeps runs for the life of the process.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]types.AgentRun
	// seq orders runs created in the same millisecond by first save
	seq  map[string]uint64
	next uint64
}

// NewMemoryRunStore creates a new MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]types.AgentRun),
		seq:  make(map[string]uint64),
	}
}

func (s *MemoryRunStore) Save(_ context.Context, run types.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seq[run.RunID]; !ok {
		s.next++
		s.seq[run.RunID] = s.next
	}
	s.runs[run.RunID] = cloneRun(run)
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, runID string) (types.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return types.AgentRun{}, ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *MemoryRunStore) List(_ context.Context) ([]types.AgentRun, error) {
	s.mu.RLock()
	runs := make([]types.AgentRun, 0, len(s.runs))
	seq := make(map[string]uint64, len(s.seq))
	for id, run := range s.runs {
		runs = append(runs, cloneRun(run))
		seq[id] = s.seq[id]
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt > runs[j].CreatedAt
		}
		return seq[runs[i].RunID] > seq[runs[j].RunID]
	})
	return runs, nil
}

func cloneRun(run types.AgentRun) types.AgentRun {
	run.Log = append([]types.AgentLogEvent(nil), run.Log...)
	if run.Log == nil {
		run.Log = []types.AgentLogEvent{}
	}
	return run
}

const (
	redisRunKeyPrefix = "arcmeter:run:"
	redisRunIndexKey  = "arcmeter:runs"
)

// RedisRunStore keeps runs in Redis: one JSON value per run plus a sorted
// set of run ids scored by creation time.
type RedisRunStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRunStore connects to the Redis server at url (redis://...).
func NewRedisRunStore(ctx context.Context, url string, ttl time.Duration) (*RedisRunStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 800 * time.Millisecond
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := client.Ping(pingCtx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRunStore{client: client, ttl: ttl}, nil
}

func (s *RedisRunStore) Save(ctx context.Context, run types.AgentRun) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	createdAt, err := types.ParseTime(run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to parse run creation time: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisRunKeyPrefix+run.RunID, raw, s.ttl)
	pipe.ZAdd(ctx, redisRunIndexKey, &redis.Z{
		Score:  float64(createdAt.UnixMilli()),
		Member: run.RunID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

func (s *RedisRunStore) Get(ctx context.Context, runID string) (types.AgentRun, error) {
	raw, err := s.client.Get(ctx, redisRunKeyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.AgentRun{}, ErrRunNotFound
	}
	if err != nil {
		return types.AgentRun{}, fmt.Errorf("failed to get run: %w", err)
	}

	var run types.AgentRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return types.AgentRun{}, fmt.Errorf("failed to parse run: %w", err)
	}
	return run, nil
}

func (s *RedisRunStore) List(ctx context.Context) ([]types.AgentRun, error) {
	ids, err := s.client.ZRevRange(ctx, redisRunIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(ids) == 0 {
		return []types.AgentRun{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisRunKeyPrefix + id
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]types.AgentRun, 0, len(values))
	for _, v := range values {
		// Expired runs are still indexed
		raw, ok := v.(string)
		if !ok {
			continue
		}

		var run types.AgentRun
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			continue
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// Close closes the Redis client.
func (s *RedisRunStore) Close() error {
	return s.client.Close()
}
