package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/checkride-sync/internal/models"
)

// Each record lives in a hash {lm, data, deleted}. Writes older than or equal
// to the stored lm are ignored, and a deleted record is never overwritten.
var pushScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'deleted') == '1' then
  return 0
end
local cur = redis.call('HGET', KEYS[1], 'lm')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'lm', ARGV[1], 'data', ARGV[2], 'deleted', '0')
if tonumber(ARGV[3]) > 0 then
  redis.call('XADD', KEYS[2], 'MAXLEN', '~', ARGV[3], '*', 'record', ARGV[2])
else
  redis.call('XADD', KEYS[2], '*', 'record', ARGV[2])
end
redis.call('PUBLISH', KEYS[3], ARGV[4])
return 1
`)

var deleteScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'deleted') == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'lm', ARGV[1], 'data', ARGV[2], 'deleted', '1')
if tonumber(ARGV[3]) > 0 then
  redis.call('XADD', KEYS[2], 'MAXLEN', '~', ARGV[3], '*', 'record', ARGV[2])
else
  redis.call('XADD', KEYS[2], '*', 'record', ARGV[2])
end
redis.call('PUBLISH', KEYS[3], ARGV[4])
return 1
`)

const feedStart = "0-0"

// RedisShareStore is the shared store backed by Redis: latest state per
// record in hashes, an ordered change feed in a stream, and a pub/sub
// channel announcing changes.
type RedisShareStore struct {
	client     *redis.Client
	namespace  string
	feedMaxLen int64
	origin     string
	logger     *zap.Logger
}

// NewRedisShareStore constructs a Redis backed share store. origin tags the
// tombstone envelopes written by Delete.
func NewRedisShareStore(client *redis.Client, namespace string, feedMaxLen int64, origin string, logger *zap.Logger) *RedisShareStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = "checkride"
	}
	return &RedisShareStore{client: client, namespace: namespace, feedMaxLen: feedMaxLen, origin: origin, logger: logger}
}

func (s *RedisShareStore) recordKey(key models.RecordKey) string {
	return fmt.Sprintf("%s:share:%s:rec:%s:%s", s.namespace, key.ShareID, key.Type, key.ID)
}

func (s *RedisShareStore) feedKey(shareID string) string {
	return fmt.Sprintf("%s:share:%s:feed", s.namespace, shareID)
}

func (s *RedisShareStore) notifyChannel(shareID string) string {
	return fmt.Sprintf("%s:share:%s:notify", s.namespace, shareID)
}

// Push upserts the record unless the store already holds an equal or newer
// version or a tombstone.
func (s *RedisShareStore) Push(ctx context.Context, record models.SyncRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.Key(), err)
	}
	key := record.Key()
	keys := []string{s.recordKey(key), s.feedKey(key.ShareID), s.notifyChannel(key.ShareID)}
	stored, err := pushScript.Run(ctx, s.client, keys, record.LastModified.UnixMicro(), payload, s.feedMaxLen, key.String()).Int()
	if err != nil {
		return fmt.Errorf("redis push %s: %w", key, err)
	}
	if stored == 0 {
		s.logger.Debug("push superseded by stored record", zap.String("key", key.String()))
	}
	return nil
}

// Delete replaces the record with a tombstone and appends it to the feed.
func (s *RedisShareStore) Delete(ctx context.Context, key models.RecordKey, deletedAt time.Time) error {
	payload, err := json.Marshal(models.NewDeletedRecord(key, deletedAt, s.origin))
	if err != nil {
		return fmt.Errorf("marshal tombstone %s: %w", key, err)
	}
	keys := []string{s.recordKey(key), s.feedKey(key.ShareID), s.notifyChannel(key.ShareID)}
	if err := deleteScript.Run(ctx, s.client, keys, deletedAt.UnixMicro(), payload, s.feedMaxLen, key.String()).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Pull returns records changed after sinceToken and the token to resume from.
// An empty token, or one that fell off the trimmed feed, yields a snapshot.
func (s *RedisShareStore) Pull(ctx context.Context, shareID, sinceToken string, limit int) ([]models.SyncRecord, string, error) {
	if sinceToken == "" {
		return s.snapshot(ctx, shareID)
	}
	if limit <= 0 {
		limit = 500
	}

	feed := s.feedKey(shareID)
	if sinceToken == feedStart {
		entries, err := s.client.XRangeN(ctx, feed, "-", "+", int64(limit)).Result()
		if err != nil {
			return nil, "", fmt.Errorf("redis read feed: %w", err)
		}
		return s.decodeEntries(entries, sinceToken)
	}

	entries, err := s.client.XRangeN(ctx, feed, sinceToken, "+", int64(limit)+1).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis read feed: %w", err)
	}
	if len(entries) == 0 || entries[0].ID != sinceToken {
		s.logger.Warn("feed position lost, falling back to snapshot", zap.String("share_id", shareID), zap.String("token", sinceToken))
		return s.snapshot(ctx, shareID)
	}
	return s.decodeEntries(entries[1:], sinceToken)
}

func (s *RedisShareStore) decodeEntries(entries []redis.XMessage, token string) ([]models.SyncRecord, string, error) {
	records := make([]models.SyncRecord, 0, len(entries))
	next := token
	for _, entry := range entries {
		next = entry.ID
		raw, ok := entry.Values["record"].(string)
		if !ok {
			continue
		}
		var record models.SyncRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			s.logger.Warn("skipping malformed feed entry", zap.String("entry_id", entry.ID), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, next, nil
}

func (s *RedisShareStore) snapshot(ctx context.Context, shareID string) ([]models.SyncRecord, string, error) {
	// read the feed head first so changes racing the scan are replayed later
	token := feedStart
	last, err := s.client.XRevRangeN(ctx, s.feedKey(shareID), "+", "-", 1).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis read feed head: %w", err)
	}
	if len(last) > 0 {
		token = last[0].ID
	}

	pattern := fmt.Sprintf("%s:share:%s:rec:*", s.namespace, shareID)
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, "", fmt.Errorf("redis scan share: %w", err)
	}
	if len(keys) == 0 {
		return nil, token, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(keys))
	for _, key := range keys {
		cmds = append(cmds, pipe.HGet(ctx, key, "data"))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, "", fmt.Errorf("redis read share records: %w", err)
	}

	records := make([]models.SyncRecord, 0, len(cmds))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var record models.SyncRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			s.logger.Warn("skipping malformed record", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	SortForApply(records)
	return records, token, nil
}

// Subscribe delivers the key of every record changed in shareID until ctx ends.
func (s *RedisShareStore) Subscribe(ctx context.Context, shareID string) (<-chan string, error) {
	pubsub := s.client.Subscribe(ctx, s.notifyChannel(shareID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", shareID, err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					// a pending notification already triggers a pull
				}
			}
		}
	}()
	return out, nil
}

var applyOrder = map[models.RecordType]int{
	models.RecordTypeStudent:      0,
	models.RecordTypeAssignment:   1,
	models.RecordTypeItemProgress: 2,
}

// SortForApply orders snapshot records so parents precede children.
func SortForApply(records []models.SyncRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if applyOrder[records[i].Type] != applyOrder[records[j].Type] {
			return applyOrder[records[i].Type] < applyOrder[records[j].Type]
		}
		if !records[i].LastModified.Equal(records[j].LastModified) {
			return records[i].LastModified.Before(records[j].LastModified)
		}
		return records[i].ID < records[j].ID
	})
}
