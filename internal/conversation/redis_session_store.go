package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/send-money-agent/internal/transfer"
)

const (
	sessionKeyPrefix = "send_money:session:"
	sessionIndexKey  = "send_money:sessions"
)

// RedisSessionStore shares sessions between replicas. A positive ttl expires
// idle sessions; zero keeps them until deleted.
type RedisSessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

var _ SessionStore = (*RedisSessionStore)(nil)

func NewRedisSessionStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *RedisSessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("send_money.internal.conversation.sessions")
	}
	return &RedisSessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: tracer,
	}
}

func (s *RedisSessionStore) Create(ctx context.Context) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.create_session")
	defer span.End()

	sess := newSession(uuid.NewString())
	if err := s.put(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return sess, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_session")
	defer span.End()

	sess, err := s.load(ctx, id)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		span.RecordError(err)
	}
	return sess, err
}

func (s *RedisSessionStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.get_or_create_session")
	defer span.End()

	sess := newSession(id)
	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to marshal session: %w", err)
	}
	created, err := s.redis.SetNX(ctx, sessionKey(id), data, s.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to create session: %w", err)
	}
	if created {
		if err := s.redis.SAdd(ctx, sessionIndexKey, id).Err(); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: failed to index session: %w", err)
		}
		return sess, nil
	}
	return s.load(ctx, id)
}

func (s *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_session")
	defer span.End()

	stored := *session
	stored.UpdatedAt = time.Now().UTC()
	if err := s.put(ctx, &stored); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.delete_session")
	defer span.End()

	pipe := s.redis.TxPipeline()
	del := pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, sessionIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to delete session: %w", err)
	}
	if del.Val() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List returns live session ids and prunes index entries whose session expired.
func (s *RedisSessionStore) List(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.list_sessions")
	defer span.End()

	ids, err := s.redis.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to list sessions: %w", err)
	}
	sort.Strings(ids)

	pipe := s.redis.Pipeline()
	checks := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		checks[i] = pipe.Exists(ctx, sessionKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: failed to check sessions: %w", err)
		}
	}

	live := make([]string, 0, len(ids))
	var stale []any
	for i, id := range ids {
		if checks[i].Val() > 0 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, sessionIndexKey, stale...).Err(); err != nil {
			span.RecordError(err)
		}
	}
	return live, nil
}

func (s *RedisSessionStore) put(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal session: %w", err)
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, s.ttl)
	pipe.SAdd(ctx, sessionIndexKey, sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) load(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	if sess.State.ClarificationOptions == nil {
		sess.State.ClarificationOptions = []transfer.ClarificationOption{}
	}
	return &sess, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
