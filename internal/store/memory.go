package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/masa-finance/lead-worker/api/types"
)

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	records map[string]*types.LeadRecord
}

// MemoryStore keeps leads in memory, striped over shards by identity so that
// upserts of different identities rarely contend.
type MemoryStore struct {
	shards  [shardCount]*shard
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{nowFunc: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*types.LeadRecord)}
	}
	return s
}

// SetClock replaces the time source. Only meant for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.nowFunc = now
}

func (s *MemoryStore) shardFor(identity string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Upsert(ctx context.Context, c types.Candidate) (UpsertResult, error) {
	if c.Identity == "" {
		return 0, &StoreError{Identity: c.Identity, Err: ErrInvalidIdentity}
	}
	if err := ctx.Err(); err != nil {
		return 0, &StoreError{Identity: c.Identity, Err: err}
	}

	sh := s.shardFor(c.Identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.nowFunc()
	if rec, ok := sh.records[c.Identity]; ok {
		rec.Merge(c, now)
		return Updated, nil
	}
	rec := types.NewLeadRecord(c, now)
	sh.records[c.Identity] = &rec
	return Inserted, nil
}

func (s *MemoryStore) Get(_ context.Context, identity string) (types.LeadRecord, bool, error) {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[identity]
	if !ok {
		return types.LeadRecord{}, false, nil
	}
	return copyRecord(rec), true, nil
}

func (s *MemoryStore) ListByNiche(_ context.Context, niche string) ([]types.LeadRecord, error) {
	var out []types.LeadRecord
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, rec := range sh.records {
			if rec.HasNiche(niche) {
				out = append(out, copyRecord(rec))
			}
		}
		sh.mu.Unlock()
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) CountByNiche(_ context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, rec := range sh.records {
			for _, n := range rec.Niches {
				counts[n]++
			}
		}
		sh.mu.Unlock()
	}
	return counts, nil
}

func (s *MemoryStore) Close() {}

func copyRecord(rec *types.LeadRecord) types.LeadRecord {
	c := *rec
	c.Niches = append([]string(nil), rec.Niches...)
	return c
}

// sortRecords orders leads by follower count, largest first.
func sortRecords(recs []types.LeadRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].FollowerCount != recs[j].FollowerCount {
			return recs[i].FollowerCount > recs[j].FollowerCount
		}
		return recs[i].Identity < recs[j].Identity
	})
}
