package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/murelay/internal/ir"
)

// maxWatchRetries bounds optimistic transaction retries under contention.
const maxWatchRetries = 16

// DefaultRedisNamespace prefixes every key when the URL names none.
const DefaultRedisNamespace = "murelay"

// RedisStore is the Redis cache backend.
//
// Key layout under the namespace ns:
//
//	ns:seq                      insertion counter
//	ns:process:{pid}:latest     latest SequencedTx (JSON)
//	ns:process:{pid}:messages   ZSET of message ids scored by insertion
//	ns:process:{pid}:node       pinned compute node
//	ns:message:{mid}            CacheRecord (JSON)
//	ns:resumable                ZSET of non-terminal message ids
type RedisStore struct {
	client *redis.Client
	ns     string
}

// OpenRedis connects to the Redis server at redisURL.
// A "namespace" query parameter overrides DefaultRedisNamespace.
func OpenRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	ns := DefaultRedisNamespace
	if u, err := parseNamespace(redisURL); err == nil && u != "" {
		ns = u
	}

	opts, err := redis.ParseURL(stripNamespace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, ns: ns}, nil
}

func parseNamespace(redisURL string) (string, error) {
	u, err := url.Parse(redisURL)
	if err != nil {
		return "", err
	}
	return u.Query().Get("namespace"), nil
}

// stripNamespace removes the namespace parameter, which redis.ParseURL
// would reject as unknown.
func stripNamespace(redisURL string) string {
	u, err := url.Parse(redisURL)
	if err != nil {
		return redisURL
	}
	q := u.Query()
	if !q.Has("namespace") {
		return redisURL
	}
	q.Del("namespace")
	u.RawQuery = q.Encode()
	return u.String()
}

// NewRedisStore wraps an existing client. Used by tests.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisStore{client: client, ns: namespace}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) seqKey() string { return s.ns + ":seq" }

func (s *RedisStore) latestKey(processID string) string {
	return fmt.Sprintf("%s:process:%s:latest", s.ns, processID)
}

func (s *RedisStore) processMessagesKey(processID string) string {
	return fmt.Sprintf("%s:process:%s:messages", s.ns, processID)
}

func (s *RedisStore) nodeKey(processID string) string {
	return fmt.Sprintf("%s:process:%s:node", s.ns, processID)
}

func (s *RedisStore) messageKey(messageID string) string {
	return fmt.Sprintf("%s:message:%s", s.ns, messageID)
}

func (s *RedisStore) resumableKey() string { return s.ns + ":resumable" }

// watch runs fn as an optimistic transaction over keys, retrying when a
// watched key changes underneath it.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction on %v: too much contention", keys)
}

// FindLatestTx returns the latest sequenced tx stored for a process.
func (s *RedisStore) FindLatestTx(ctx context.Context, processID string) (ir.SequencedTx, error) {
	return getLatestTx(ctx, s.client, s.latestKey(processID))
}

func getLatestTx(ctx context.Context, c redis.Cmdable, key string) (ir.SequencedTx, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ir.SequencedTx{}, ErrNotFound
	}
	if err != nil {
		return ir.SequencedTx{}, fmt.Errorf("get latest tx: %w", err)
	}
	var tx ir.SequencedTx
	if err := json.Unmarshal(data, &tx); err != nil {
		return ir.SequencedTx{}, fmt.Errorf("unmarshal latest tx: %w", err)
	}
	return tx, nil
}

// SaveTx advances the latest-tx pointer of tx.ProcessID under WATCH, so
// a concurrent writer forces a re-check instead of a lost update.
func (s *RedisStore) SaveTx(ctx context.Context, tx ir.SequencedTx) error {
	if tx.ProcessID == "" || tx.TxID == "" {
		return fmt.Errorf("save tx: process_id and tx_id are required")
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("save tx: %w", err)
	}

	key := s.latestKey(tx.ProcessID)
	return s.watch(ctx, func(rtx *redis.Tx) error {
		stored, err := getLatestTx(ctx, rtx, key)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return fmt.Errorf("save tx: %w", err)
		default:
			write, err := checkMonotonic(stored, tx)
			if err != nil || !write {
				return err
			}
		}

		_, err = rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

// SaveMessage inserts or replaces a message record.
// Records already in a terminal status are left untouched.
func (s *RedisStore) SaveMessage(ctx context.Context, rec ir.CacheRecord) error {
	if err := validateRecord(rec); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	key := s.messageKey(rec.MessageID)

	return s.watch(ctx, func(rtx *redis.Tx) error {
		existing, err := getRecord(ctx, rtx, key)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return fmt.Errorf("save message: %w", err)
		case existing.Status.Terminal():
			return nil
		}
		return s.putRecord(ctx, rtx, rec)
	}, key)
}

// UpdateMessage applies patch to an existing record.
func (s *RedisStore) UpdateMessage(ctx context.Context, messageID string, patch ir.RecordPatch) error {
	key := s.messageKey(messageID)

	return s.watch(ctx, func(rtx *redis.Tx) error {
		rec, err := getRecord(ctx, rtx, key)
		if err != nil {
			return fmt.Errorf("update message %s: %w", messageID, err)
		}
		if rec.Status.Terminal() {
			return nil
		}
		updated := patch.Apply(rec)
		if !updated.Status.Valid() {
			return fmt.Errorf("update message %s: invalid status %q", messageID, updated.Status)
		}
		return s.putRecord(ctx, rtx, updated)
	}, key)
}

// putRecord writes rec and maintains the per-process and resumable
// indexes. The insertion score is assigned once per message id.
func (s *RedisStore) putRecord(ctx context.Context, rtx *redis.Tx, rec ir.CacheRecord) error {
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	indexKey := s.processMessagesKey(rec.ProcessID)
	score, err := rtx.ZScore(ctx, indexKey, rec.MessageID).Result()
	if errors.Is(err, redis.Nil) {
		seq, err := s.client.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return fmt.Errorf("assign insertion seq: %w", err)
		}
		score = float64(seq)
	} else if err != nil {
		return fmt.Errorf("read insertion seq: %w", err)
	}

	_, err = rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.messageKey(rec.MessageID), data, 0)
		p.ZAddNX(ctx, indexKey, redis.Z{Score: score, Member: rec.MessageID})
		if rec.Status.Terminal() {
			p.ZRem(ctx, s.resumableKey(), rec.MessageID)
		} else {
			p.ZAdd(ctx, s.resumableKey(), redis.Z{Score: score, Member: rec.MessageID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// FindMessage returns the record for a message id.
func (s *RedisStore) FindMessage(ctx context.Context, messageID string) (ir.CacheRecord, error) {
	rec, err := getRecord(ctx, s.client, s.messageKey(messageID))
	if err != nil {
		return ir.CacheRecord{}, fmt.Errorf("find message %s: %w", messageID, err)
	}
	return rec, nil
}

func getRecord(ctx context.Context, c redis.Cmdable, key string) (ir.CacheRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ir.CacheRecord{}, ErrNotFound
	}
	if err != nil {
		return ir.CacheRecord{}, fmt.Errorf("get record: %w", err)
	}
	return unmarshalRecord(data)
}

// FindLatestMessages pages through the records of a process, newest first.
func (s *RedisStore) FindLatestMessages(ctx context.Context, processID string, cursor int64, limit int) ([]ir.CacheRecord, int64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	max := "+inf"
	if cursor > 0 {
		max = "(" + strconv.FormatInt(cursor, 10)
	}

	entries, err := s.client.ZRevRangeByScoreWithScores(ctx, s.processMessagesKey(processID), &redis.ZRangeBy{
		Max:   max,
		Min:   "-inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("query latest messages: %w", err)
	}

	records, err := s.loadEntries(ctx, entries)
	if err != nil {
		return nil, 0, err
	}

	var next int64
	if len(entries) == limit {
		next = int64(entries[len(entries)-1].Score)
	}
	return records, next, nil
}

// FindResumable returns non-terminal records, oldest first.
func (s *RedisStore) FindResumable(ctx context.Context, processID string, limit int) ([]ir.CacheRecord, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	entries, err := s.client.ZRangeWithScores(ctx, s.resumableKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query resumable messages: %w", err)
	}

	all, err := s.loadEntries(ctx, entries)
	if err != nil {
		return nil, err
	}

	records := []ir.CacheRecord{}
	for _, rec := range all {
		if processID != "" && rec.ProcessID != processID {
			continue
		}
		records = append(records, rec)
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

func (s *RedisStore) loadEntries(ctx context.Context, entries []redis.Z) ([]ir.CacheRecord, error) {
	records := make([]ir.CacheRecord, 0, len(entries))
	for _, z := range entries {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		rec, err := getRecord(ctx, s.client, s.messageKey(id))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// SaveProcessNode pins a process to a compute node by name.
func (s *RedisStore) SaveProcessNode(ctx context.Context, processID, node string) error {
	if err := s.client.Set(ctx, s.nodeKey(processID), node, 0).Err(); err != nil {
		return fmt.Errorf("save process node: %w", err)
	}
	return nil
}

// FindProcessNode returns the node a process is pinned to.
func (s *RedisStore) FindProcessNode(ctx context.Context, processID string) (string, error) {
	node, err := s.client.Get(ctx, s.nodeKey(processID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find process node: %w", err)
	}
	return node, nil
}
