package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/checkpointer/store"
)

const pageSize = 100

// RedisCheckpointStore implements store.Log using Redis.
//
// Layout, relative to the key prefix:
//
//	checkpoint:<thread>:<user>:<id>        checkpoint JSON
//	thread:<thread>:<user>:checkpoints     sorted set of ids, ordered by lex
//	thread:<thread>:<user>:writes          set of writes hash keys
//	thread:<thread>:users                  set of owners seen for the thread
//	writes:<thread>:<user>:<id>            hash of "<task>:<idx>" -> write JSON
//	log                                    list of checkpoint keys in insertion order
//
// Thread, user and id components are query-escaped.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.Log = (*RedisCheckpointStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "checkpointer:"
	TTL      time.Duration // Expiration for checkpoints, default 0 (no expiration)
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "checkpointer:"
	}

	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// part escapes a key component so ids containing ':' cannot collide across owners
func part(s string) string {
	return url.QueryEscape(s)
}

func (s *RedisCheckpointStore) checkpointKey(threadID, userEmail, id string) string {
	return fmt.Sprintf("%scheckpoint:%s:%s:%s", s.prefix, part(threadID), part(userEmail), part(id))
}

func (s *RedisCheckpointStore) indexKey(threadID, userEmail string) string {
	return fmt.Sprintf("%sthread:%s:%s:checkpoints", s.prefix, part(threadID), part(userEmail))
}

func (s *RedisCheckpointStore) writesIndexKey(threadID, userEmail string) string {
	return fmt.Sprintf("%sthread:%s:%s:writes", s.prefix, part(threadID), part(userEmail))
}

func (s *RedisCheckpointStore) usersKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:users", s.prefix, part(threadID))
}

func (s *RedisCheckpointStore) writesKey(threadID, userEmail, checkpointID string) string {
	return fmt.Sprintf("%swrites:%s:%s:%s", s.prefix, part(threadID), part(userEmail), part(checkpointID))
}

func (s *RedisCheckpointStore) logKey() string {
	return s.prefix + "log"
}

// Close closes the client
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

// PutCheckpoint stores a checkpoint and appends it to the log on first write
func (s *RedisCheckpointStore) PutCheckpoint(ctx context.Context, cp *store.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	idx := s.indexKey(cp.ThreadID, cp.UserEmail)
	added, err := s.client.ZAdd(ctx, idx, redis.Z{Score: 0, Member: cp.ID}).Result()
	if err != nil {
		return store.Fault("index checkpoint", err)
	}

	key := s.checkpointKey(cp.ThreadID, cp.UserEmail, cp.ID)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.SAdd(ctx, s.usersKey(cp.ThreadID), cp.UserEmail)
	if added > 0 {
		pipe.RPush(ctx, s.logKey(), key)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, idx, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return store.Fault("save checkpoint to redis", err)
	}
	return nil
}

func writeField(w store.PendingWrite) string {
	return fmt.Sprintf("%s:%d", w.TaskID, w.Index)
}

// PutWrites stores pending writes
func (s *RedisCheckpointStore) PutWrites(ctx context.Context, writes []store.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, w := range writes {
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint write: %w", err)
		}
		key := s.writesKey(w.ThreadID, w.UserEmail, w.CheckpointID)
		pipe.HSet(ctx, key, writeField(w), data)
		pipe.SAdd(ctx, s.writesIndexKey(w.ThreadID, w.UserEmail), key)
		pipe.SAdd(ctx, s.usersKey(w.ThreadID), w.UserEmail)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return store.Fault("save checkpoint writes to redis", err)
	}
	return nil
}

func (s *RedisCheckpointStore) load(ctx context.Context, key string) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, store.Fault("load checkpoint from redis", err)
	}

	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, store.Fault("unmarshal checkpoint", err)
	}
	return &cp, nil
}

// Latest returns the newest checkpoint of a thread, optionally at or before a given id
func (s *RedisCheckpointStore) Latest(ctx context.Context, threadID, userEmail, atOrBefore string) (*store.Checkpoint, error) {
	maxID := "+"
	if atOrBefore != "" {
		maxID = "[" + atOrBefore
	}

	ids, err := s.client.ZRevRangeByLex(ctx, s.indexKey(threadID, userEmail), &redis.ZRangeBy{
		Min:   "-",
		Max:   maxID,
		Count: 1,
	}).Result()
	if err != nil {
		return nil, store.Fault("query checkpoint index", err)
	}
	if len(ids) == 0 {
		return nil, store.ErrNotFound
	}
	return s.load(ctx, s.checkpointKey(threadID, userEmail, ids[0]))
}

// fetch yields the checkpoints stored under keys, skipping expired ones
func (s *RedisCheckpointStore) fetch(ctx context.Context, keys []string, yield func(*store.Checkpoint, error) bool) bool {
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return yield(nil, store.Fault("fetch checkpoints", err))
	}

	for _, result := range results {
		if err := store.ContextErr(ctx); err != nil {
			yield(nil, err)
			return false
		}
		strData, ok := result.(string)
		if !ok {
			continue
		}

		var cp store.Checkpoint
		if err := json.Unmarshal([]byte(strData), &cp); err != nil {
			yield(nil, store.Fault("unmarshal checkpoint", err))
			return false
		}
		if !yield(&cp, nil) {
			return false
		}
	}
	return true
}

// History yields the checkpoints of a thread, newest first
func (s *RedisCheckpointStore) History(ctx context.Context, threadID, userEmail string) iter.Seq2[*store.Checkpoint, error] {
	return func(yield func(*store.Checkpoint, error) bool) {
		ids, err := s.client.ZRevRangeByLex(ctx, s.indexKey(threadID, userEmail), &redis.ZRangeBy{
			Min: "-",
			Max: "+",
		}).Result()
		if err != nil {
			yield(nil, store.Fault("list checkpoints for thread "+threadID, err))
			return
		}

		for start := 0; start < len(ids); start += pageSize {
			end := min(start+pageSize, len(ids))
			keys := make([]string, 0, end-start)
			for _, id := range ids[start:end] {
				keys = append(keys, s.checkpointKey(threadID, userEmail, id))
			}
			if !s.fetch(ctx, keys, yield) {
				return
			}
		}
	}
}

// Scan yields every checkpoint in log order, paging through the log list.
// Entries removed concurrently may shift pages.
func (s *RedisCheckpointStore) Scan(ctx context.Context) iter.Seq2[*store.Checkpoint, error] {
	return func(yield func(*store.Checkpoint, error) bool) {
		for start := int64(0); ; start += pageSize {
			keys, err := s.client.LRange(ctx, s.logKey(), start, start+pageSize-1).Result()
			if err != nil {
				yield(nil, store.Fault("scan checkpoint log", err))
				return
			}
			if len(keys) == 0 {
				return
			}
			if !s.fetch(ctx, keys, yield) {
				return
			}
			if len(keys) < pageSize {
				return
			}
		}
	}
}

// Writes returns the pending writes of one checkpoint
func (s *RedisCheckpointStore) Writes(ctx context.Context, threadID, userEmail, checkpointID string) ([]store.PendingWrite, error) {
	fields, err := s.client.HGetAll(ctx, s.writesKey(threadID, userEmail, checkpointID)).Result()
	if err != nil {
		return nil, store.Fault("list checkpoint writes", err)
	}

	writes := make([]store.PendingWrite, 0, len(fields))
	for _, data := range fields {
		var w store.PendingWrite
		if err := json.Unmarshal([]byte(data), &w); err != nil {
			return nil, store.Fault("unmarshal checkpoint write", err)
		}
		writes = append(writes, w)
	}
	store.SortWrites(writes)
	return writes, nil
}

func (s *RedisCheckpointStore) owners(ctx context.Context, threadID, userEmail string) ([]string, error) {
	if userEmail != "" {
		return []string{userEmail}, nil
	}
	users, err := s.client.SMembers(ctx, s.usersKey(threadID)).Result()
	if err != nil {
		return nil, store.Fault("list thread owners", err)
	}
	return users, nil
}

// forgetOwners drops owners that no longer hold checkpoints or writes for the thread
func (s *RedisCheckpointStore) forgetOwners(ctx context.Context, threadID string, users []string) error {
	for _, user := range users {
		n, err := s.client.Exists(ctx, s.indexKey(threadID, user), s.writesIndexKey(threadID, user)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := s.client.SRem(ctx, s.usersKey(threadID), user).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteCheckpoints removes the checkpoints of a thread
func (s *RedisCheckpointStore) DeleteCheckpoints(ctx context.Context, threadID, userEmail string) (int64, error) {
	users, err := s.owners(ctx, threadID, userEmail)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, user := range users {
		idx := s.indexKey(threadID, user)
		ids, err := s.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return deleted, store.Fault("get checkpoints for clearing", err)
		}
		if len(ids) == 0 {
			continue
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.checkpointKey(threadID, user, id)
		}

		pipe := s.client.Pipeline()
		del := pipe.Del(ctx, keys...)
		for _, key := range keys {
			pipe.LRem(ctx, s.logKey(), 1, key)
		}
		pipe.Del(ctx, idx)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, store.Fault("delete checkpoints", err)
		}
		deleted += del.Val()
	}

	if err := s.forgetOwners(ctx, threadID, users); err != nil {
		return deleted, store.Fault("update thread owners", err)
	}
	return deleted, nil
}

// DeleteWrites removes the pending writes of a thread
func (s *RedisCheckpointStore) DeleteWrites(ctx context.Context, threadID, userEmail string) (int64, error) {
	users, err := s.owners(ctx, threadID, userEmail)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, user := range users {
		widx := s.writesIndexKey(threadID, user)
		keys, err := s.client.SMembers(ctx, widx).Result()
		if err != nil {
			return deleted, store.Fault("get checkpoint writes for clearing", err)
		}
		if len(keys) == 0 {
			continue
		}

		pipe := s.client.Pipeline()
		counts := make([]*redis.IntCmd, len(keys))
		for i, key := range keys {
			counts[i] = pipe.HLen(ctx, key)
		}
		pipe.Del(ctx, append(keys, widx)...)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return deleted, store.Fault("delete checkpoint writes", err)
		}
		for _, c := range counts {
			deleted += c.Val()
		}
	}

	if err := s.forgetOwners(ctx, threadID, users); err != nil {
		return deleted, store.Fault("update thread owners", err)
	}
	return deleted, nil
}
