package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/config"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// KeyResolutionStatus holds the mirrored tracker state
const KeyResolutionStatus = "resolution:status"

// NewRedisClient opens and pings a Redis connection
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// StatusStore mirrors the resolution status to Redis so a restarted
// process can report how the last run ended
type StatusStore struct {
	client redis.Cmdable
	key    string
}

// NewStatusStore creates a status store on client
func NewStatusStore(client redis.Cmdable) *StatusStore {
	return &StatusStore{client: client, key: KeyResolutionStatus}
}

// SaveStatus writes the status as JSON
func (s *StatusStore) SaveStatus(ctx context.Context, status *models.ResolutionStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution status: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save resolution status: %w", err)
	}
	return nil
}

// LoadStatus reads the status, returning nil when none was saved
func (s *StatusStore) LoadStatus(ctx context.Context) (*models.ResolutionStatus, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load resolution status: %w", err)
	}

	var status models.ResolutionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resolution status: %w", err)
	}
	return &status, nil
}

// Clear removes the mirrored status
func (s *StatusStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
