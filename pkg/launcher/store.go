package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSummaryNotFound is returned when a store has no summary for a launch ID
var ErrSummaryNotFound = errors.New("launch summary not found")

// SummaryStore persists launch summaries for later inspection
type SummaryStore interface {
	Save(ctx context.Context, s *Summary) error
	Load(ctx context.Context, launchID string) (*Summary, error)
	Recent(ctx context.Context, n int) ([]string, error)
}

// RedisConfig configures the Redis summary store
type RedisConfig struct {
	Address      string        `mapstructure:"address" yaml:"address"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DB           int           `mapstructure:"db" yaml:"db"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
	History      int64         `mapstructure:"history" yaml:"history"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

const (
	launchKeyPrefix = "modelpool:launch:"
	launchesKey     = "modelpool:launches"
)

// RedisSummaryStore keeps each summary as a JSON document, a per-instance
// hash of states and a capped list of recent launch IDs.
type RedisSummaryStore struct {
	client  redis.UniversalClient
	ttl     time.Duration
	history int64
}

// NewRedisSummaryStore connects to Redis and verifies the connection
func NewRedisSummaryStore(ctx context.Context, cfg RedisConfig) (*RedisSummaryStore, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSummaryStoreWithClient(client, cfg.TTL, cfg.History), nil
}

// NewRedisSummaryStoreWithClient uses an existing client. A zero ttl keeps
// summaries forever; history <= 0 keeps the 100 most recent launch IDs.
func NewRedisSummaryStoreWithClient(client redis.UniversalClient, ttl time.Duration, history int64) *RedisSummaryStore {
	if history <= 0 {
		history = 100
	}
	return &RedisSummaryStore{client: client, ttl: ttl, history: history}
}

func launchKey(launchID string) string {
	return launchKeyPrefix + launchID
}

func instancesKey(launchID string) string {
	return launchKeyPrefix + launchID + ":instances"
}

// Save writes the summary in one transaction
func (st *RedisSummaryStore) Save(ctx context.Context, s *Summary) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	states := make(map[string]interface{}, len(s.Instances))
	for _, inst := range s.Instances {
		value := inst.State
		if inst.Failed() {
			value += ":" + string(inst.ErrorCode)
		}
		states[inst.InstanceName] = value
	}

	_, err = st.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, launchKey(s.LaunchID), doc, st.ttl)
		if len(states) > 0 {
			pipe.Del(ctx, instancesKey(s.LaunchID))
			pipe.HSet(ctx, instancesKey(s.LaunchID), states)
			if st.ttl > 0 {
				pipe.Expire(ctx, instancesKey(s.LaunchID), st.ttl)
			}
		}
		pipe.LPush(ctx, launchesKey, s.LaunchID)
		pipe.LTrim(ctx, launchesKey, 0, st.history-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save summary %s: %w", s.LaunchID, err)
	}
	return nil
}

// Load reads a summary back
func (st *RedisSummaryStore) Load(ctx context.Context, launchID string) (*Summary, error) {
	doc, err := st.client.Get(ctx, launchKey(launchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSummaryNotFound, launchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load summary %s: %w", launchID, err)
	}

	var s Summary
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", launchID, err)
	}
	return &s, nil
}

// InstanceStates returns instance name -> state for one launch
func (st *RedisSummaryStore) InstanceStates(ctx context.Context, launchID string) (map[string]string, error) {
	return st.client.HGetAll(ctx, instancesKey(launchID)).Result()
}

// Recent returns up to n launch IDs, newest first
func (st *RedisSummaryStore) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return st.client.LRange(ctx, launchesKey, 0, int64(n-1)).Result()
}

// Close closes the underlying client
func (st *RedisSummaryStore) Close() error {
	return st.client.Close()
}

// String identifies the store in logs
func (st *RedisSummaryStore) String() string {
	return "redis(history=" + strconv.FormatInt(st.history, 10) + ")"
}

// NewSummaryStore builds the store selected by cfg.Backend; "none" returns nil
func NewSummaryStore(ctx context.Context, cfg StoreConfig) (SummaryStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "redis":
		st, err := NewRedisSummaryStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
