package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our token,
// preventing a holder whose lease expired from releasing a lock some other
// process has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// extendScript bumps a held lock's TTL only if it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

type (
	// Redis is a Store backed by a shared Redis instance, suitable for a
	// multi-process deployment. Keys follow spec.md §5: state:S, seq:S,
	// stream:S, and lock:S, with pub/sub topic pub:S.
	Redis struct {
		client     *redis.Client
		lockTTL    time.Duration
		lockRetry  time.Duration
	}

	redisLock struct {
		client    *redis.Client
		sessionID string
		token     string
		ttl       time.Duration
	}
)

// RedisOption configures a Redis store at construction.
type RedisOption func(*Redis)

// WithLockTTL overrides the default lock lease duration (10s).
func WithLockTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.lockTTL = d }
}

// WithLockRetryInterval overrides the polling interval used while blocked
// waiting to acquire a held lock (default 25ms).
func WithLockRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.lockRetry = d }
}

// NewRedis constructs a Store backed by client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, lockTTL: 10 * time.Second, lockRetry: 25 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func stateKey(sessionID string) string  { return "state:" + sessionID }
func seqKey(sessionID string) string    { return "seq:" + sessionID }
func streamKey(sessionID string) string { return "stream:" + sessionID }
func lockKey(sessionID string) string   { return "lock:" + sessionID }
func pubTopic(sessionID string) string  { return "pub:" + sessionID }

func (r *Redis) CreateSession(ctx context.Context, sessionID, flowName string, flowVersion int, start string) (SessionState, error) {
	exists, err := r.client.Exists(ctx, stateKey(sessionID)).Result()
	if err != nil {
		return SessionState{}, fmt.Errorf("store: check existing session: %w", err)
	}
	if exists > 0 {
		return SessionState{}, ErrSessionExists
	}
	st := SessionState{
		SessionID:    sessionID,
		FlowName:     flowName,
		FlowVersion:  flowVersion,
		CurrentState: start,
		Context:      map[string]any{},
		CreatedAt:    time.Now(),
	}
	if err := r.SaveSession(ctx, st); err != nil {
		return SessionState{}, err
	}
	return st, nil
}

func (r *Redis) LoadSession(ctx context.Context, sessionID string) (SessionState, error) {
	raw, err := r.client.Get(ctx, stateKey(sessionID)).Bytes()
	if err == redis.Nil {
		return SessionState{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionState{}, fmt.Errorf("store: load session: %w", err)
	}
	var st SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return SessionState{}, fmt.Errorf("store: decode session: %w", err)
	}
	return st, nil
}

func (r *Redis) SaveSession(ctx context.Context, state SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	if err := r.client.Set(ctx, stateKey(state.SessionID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

func (r *Redis) DeleteSession(ctx context.Context, sessionID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, stateKey(sessionID))
	pipe.Del(ctx, seqKey(sessionID))
	pipe.Del(ctx, streamKey(sessionID))
	pipe.Del(ctx, lockKey(sessionID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// Lock acquires the per-session distributed lock using SET NX PX with a
// random token, polling at lockRetry intervals until acquired or ctx is
// done. Holding the token (rather than a fixed sentinel value) lets
// Release/Extend verify they still own the lock via a compare-and-delete
// Lua script, so an expired lease can never be released out from under its
// new holder.
func (r *Redis) Lock(ctx context.Context, sessionID string) (Lock, error) {
	token := uuid.NewString()
	key := lockKey(sessionID)
	ticker := time.NewTicker(r.lockRetry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("store: acquire lock: %w", err)
		}
		if ok {
			return &redisLock{client: r.client, sessionID: sessionID, token: token, ttl: r.lockTTL}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{lockKey(l.sessionID)}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("store: release lock: %w", err)
	}
	if res == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *redisLock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.client, []string{lockKey(l.sessionID)}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("store: extend lock: %w", err)
	}
	if res == 0 {
		return ErrLockLost
	}
	return nil
}

// AppendEvent atomically assigns the next sequence number via INCR, appends
// the encoded event to the durable stream via RPUSH, and publishes the same
// payload on the live topic. The increment and append are not wrapped in a
// single transaction: a crash between them would leave a gap that catch-up
// readers would never see filled, but seq numbers themselves never collide
// since INCR is atomic.
func (r *Redis) AppendEvent(ctx context.Context, sessionID string, evt Event) (int64, error) {
	seq, err := r.client.Incr(ctx, seqKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: increment seq: %w", err)
	}
	evt.SessionID = sessionID
	evt.Seq = seq
	evt.Timestamp = time.Now()

	raw, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("store: encode event: %w", err)
	}
	if err := r.client.RPush(ctx, streamKey(sessionID), raw).Err(); err != nil {
		return 0, fmt.Errorf("store: append event: %w", err)
	}
	if err := r.client.Publish(ctx, pubTopic(sessionID), raw).Err(); err != nil {
		return 0, fmt.Errorf("store: publish event: %w", err)
	}
	return seq, nil
}

func (r *Redis) EventsSince(ctx context.Context, sessionID string, since int64) ([]Event, error) {
	raws, err := r.client.LRange(ctx, streamKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: range events: %w", err)
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("store: decode event: %w", err)
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, nil
}

// Subscribe opens a Redis pub/sub subscription to the session's topic and
// relays decoded events onto the returned channel until ctx is done, at
// which point the subscription is closed and the channel closed.
func (r *Redis) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	sub := r.client.Subscribe(ctx, pubTopic(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("store: subscribe: %w", err)
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
