package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"auth-security/internal/config"
)

// BucketingManager spreads a user's event rows over a fixed number of
// partition buckets. The bucket of a user never changes for a given count.
type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return New(cfg.Bucketing.EventBuckets)
}

func New(eventBuckets int) *BucketingManager {
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	bm := &BucketingManager{eventBuckets: eventBuckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// GetEventBucket returns the partition bucket (0 to eventBuckets-1) for a user
func (bm *BucketingManager) GetEventBucket(userID string) int {
	return int(bm.getHash(userID) % uint64(bm.eventBuckets))
}

// GetEventBuckets returns the number of event buckets
func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
