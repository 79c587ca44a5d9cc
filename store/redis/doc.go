// Package redis provides Redis-backed checkpoint storage using go-redis.
//
// Each checkpoint is a JSON string key. A per-thread sorted set with equal
// scores indexes checkpoint ids so the newest id, or the newest id at or before
// a bound, is a single ZREVRANGEBYLEX. A global list records checkpoint keys in
// insertion order for Scan. Pending writes are hashes keyed by checkpoint.
//
// # Basic Usage
//
//	s := redis.NewRedisCheckpointStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "myapp:",
//		TTL:    24 * time.Hour,
//	})
//	defer s.Close()
//
// With a TTL, expired checkpoints are skipped by Scan and History; their log
// entries are removed when the thread is deleted.
package redis
