package repository

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/noah-isme/checkride-sync/internal/models"
)

type memoryEntry struct {
	seq    int64
	record models.SyncRecord
}

type memoryShare struct {
	records map[string]models.SyncRecord
	feed    []memoryEntry
	seq     int64
	subs    map[chan string]struct{}
}

// MemoryShareStore is an in-process shared store with the same semantics as
// RedisShareStore. Tokens are feed sequence numbers.
type MemoryShareStore struct {
	mu         sync.Mutex
	shares     map[string]*memoryShare
	feedMaxLen int
	origin     string
	failErr    error
}

// NewMemoryShareStore constructs an empty in-memory share store.
func NewMemoryShareStore(feedMaxLen int, origin string) *MemoryShareStore {
	return &MemoryShareStore{shares: make(map[string]*memoryShare), feedMaxLen: feedMaxLen, origin: origin}
}

// FailWith makes every subsequent call return err until called with nil.
func (s *MemoryShareStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *MemoryShareStore) share(shareID string) *memoryShare {
	sh, ok := s.shares[shareID]
	if !ok {
		sh = &memoryShare{records: make(map[string]models.SyncRecord), subs: make(map[chan string]struct{})}
		s.shares[shareID] = sh
	}
	return sh
}

func storeKey(key models.RecordKey) string {
	return string(key.Type) + ":" + key.ID
}

// Push upserts the record unless an equal or newer version or a tombstone is stored.
func (s *MemoryShareStore) Push(_ context.Context, record models.SyncRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	sh := s.share(record.ShareID)
	if current, ok := sh.records[storeKey(record.Key())]; ok {
		if current.Deleted || !record.LastModified.After(current.LastModified) {
			return nil
		}
	}
	s.append(sh, record)
	return nil
}

// Delete replaces the record with a tombstone.
func (s *MemoryShareStore) Delete(_ context.Context, key models.RecordKey, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	sh := s.share(key.ShareID)
	if current, ok := sh.records[storeKey(key)]; ok && current.Deleted {
		return nil
	}
	s.append(sh, models.NewDeletedRecord(key, deletedAt, s.origin))
	return nil
}

func (s *MemoryShareStore) append(sh *memoryShare, record models.SyncRecord) {
	key := record.Key()
	sh.records[storeKey(key)] = record
	sh.seq++
	sh.feed = append(sh.feed, memoryEntry{seq: sh.seq, record: record})
	if s.feedMaxLen > 0 && len(sh.feed) > s.feedMaxLen {
		sh.feed = append([]memoryEntry(nil), sh.feed[len(sh.feed)-s.feedMaxLen:]...)
	}
	for ch := range sh.subs {
		select {
		case ch <- key.String():
		default:
		}
	}
}

// Pull returns records after sinceToken, or a snapshot for an empty or
// trimmed-away token.
func (s *MemoryShareStore) Pull(_ context.Context, shareID, sinceToken string, limit int) ([]models.SyncRecord, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, "", s.failErr
	}
	sh := s.share(shareID)
	if limit <= 0 {
		limit = 500
	}

	since, err := strconv.ParseInt(sinceToken, 10, 64)
	if sinceToken == "" || err != nil || (len(sh.feed) > 0 && since < sh.feed[0].seq-1) || since > sh.seq {
		return s.snapshot(sh), strconv.FormatInt(sh.seq, 10), nil
	}

	records := make([]models.SyncRecord, 0)
	next := since
	for _, entry := range sh.feed {
		if entry.seq <= since {
			continue
		}
		if len(records) == limit {
			break
		}
		records = append(records, entry.record)
		next = entry.seq
	}
	return records, strconv.FormatInt(next, 10), nil
}

func (s *MemoryShareStore) snapshot(sh *memoryShare) []models.SyncRecord {
	records := make([]models.SyncRecord, 0, len(sh.records))
	for _, record := range sh.records {
		records = append(records, record)
	}
	SortForApply(records)
	return records
}

// Subscribe delivers changed record keys for shareID until ctx ends.
func (s *MemoryShareStore) Subscribe(ctx context.Context, shareID string) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	ch := make(chan string, 16)
	sh := s.share(shareID)
	sh.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(sh.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// Record returns the stored version of key, for inspection.
func (s *MemoryShareStore) Record(key models.RecordKey) (models.SyncRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.share(key.ShareID).records[storeKey(key)]
	return record, ok
}
