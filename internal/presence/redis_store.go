// Package presence tracks which participants are currently joined to each
// mission room. Entries live in redis, one hash per mission, and are advisory:
// callers log and swallow errors rather than failing the surrounding join or
// broadcast.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one participant's live membership in a mission room.
type Entry struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	ConnectionID  string    `json:"connectionId"`
	JoinedAt      time.Time `json:"joinedAt"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "presence:"}
}

func (s *RedisStore) key(missionID string) string {
	return s.prefix + missionID
}

// Upsert records the participant as joined. Rejoins overwrite the previous
// entry, which makes join idempotent per (mission, participant).
func (s *RedisStore) Upsert(ctx context.Context, missionID string, entry Entry) error {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(missionID), entry.ParticipantID, jsonData).Err(); err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

// Remove deletes the participant's entry, but only if it is still owned by
// connectionID. A disconnecting connection must not tear down the fresh entry
// written by the same participant's newer connection.
func (s *RedisStore) Remove(ctx context.Context, missionID, participantID, connectionID string) error {
	key := s.key(missionID)
	jsonData, err := s.client.HGet(ctx, key, participantID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read presence entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(jsonData), &entry); err != nil {
		return fmt.Errorf("unmarshal presence entry: %w", err)
	}
	if connectionID != "" && entry.ConnectionID != connectionID {
		return nil
	}

	if err := s.client.HDel(ctx, key, participantID).Err(); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

// List returns the full presence set for a mission, oldest join first.
func (s *RedisStore) List(ctx context.Context, missionID string) ([]Entry, error) {
	values, err := s.client.HGetAll(ctx, s.key(missionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	for _, jsonData := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(jsonData), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal presence entry: %w", err)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].ParticipantID < entries[j].ParticipantID
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	return entries, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
