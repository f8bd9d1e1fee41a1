package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/orderintake/config"
)

// Turn is one stored conversation exchange.
type Turn struct {
	Role      string    `json:"role"` // "customer" or "assistant"
	Text      string    `json:"text"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// Store is the append-only conversation history log, keyed by conversation.
// It is a best-effort collaborator: reads degrade to an empty history and
// writes never fail a turn.
type Store struct {
	client  *redis.Client
	enabled bool
	// maxTurns bounds how much history is retained per conversation.
	maxTurns int
}

// NewStore creates a new conversation history store
func NewStore(cfg config.RedisConfig, maxTurns int) (*Store, error) {
	if !cfg.Enabled {
		return &Store{enabled: false, maxTurns: maxTurns}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &Store{
		client:   client,
		enabled:  true,
		maxTurns: maxTurns,
	}, nil
}

func turnsKey(conversationKey string) string {
	return fmt.Sprintf("conv:%s:turns", conversationKey)
}

// Append records a turn, trimming the log to the retention bound. Failures
// are logged and swallowed.
func (s *Store) Append(ctx context.Context, conversationKey string, turn Turn) {
	if !s.enabled {
		return
	}

	data, err := json.Marshal(turn)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal conversation turn")
		return
	}

	key := turnsKey(conversationKey)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("conversation", conversationKey).Msg("Failed to append conversation turn")
	}
}

// Recent returns up to n most recent turns, oldest first. Unavailability of
// the store degrades to an empty history, never a failed turn.
func (s *Store) Recent(ctx context.Context, conversationKey string, n int) []Turn {
	if !s.enabled || n <= 0 {
		return nil
	}

	raw, err := s.client.LRange(ctx, turnsKey(conversationKey), int64(-n), -1).Result()
	if err != nil {
		log.Warn().Err(err).Str("conversation", conversationKey).Msg("Failed to read conversation history, continuing without it")
		return nil
	}

	turns := make([]Turn, 0, len(raw))
	for _, entry := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(entry), &turn); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed conversation turn")
			continue
		}
		turns = append(turns, turn)
	}
	return turns
}

// SuppressNotice records that a notice (e.g. "item unavailable") was sent in
// this conversation and reports whether it had already been sent within the
// TTL. The first caller gets false and owns delivering the notice.
func (s *Store) SuppressNotice(ctx context.Context, conversationKey, notice string, ttl time.Duration) bool {
	if !s.enabled {
		return false
	}

	key := fmt.Sprintf("conv:%s:notice:%s", conversationKey, notice)
	set, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		log.Warn().Err(err).Str("conversation", conversationKey).Msg("Failed to check notice suppression")
		return false
	}
	return !set
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	if !s.enabled || s.client == nil {
		return nil
	}
	return s.client.Close()
}
