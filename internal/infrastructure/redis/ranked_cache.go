package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	"github.com/avatarctic/ranked-posts/internal/core/ports"
)

const (
	DefaultMaxEntries         = 10000
	DefaultMaxScoreDuplicates = 100
	DefaultTTL                = 10 * time.Minute
	DefaultImageTTL           = 30 * time.Minute

	// memberWidth zero-pads ids so the sorted set's lexicographic tie-break on
	// members agrees with numeric id order.
	memberWidth = 20
)

// Both read scripts return {flat member/score list, payloads aligned with members}
// from a single atomic step so a concurrent Populate cannot split the view.
const readTail = `
if #entries == 0 then return {entries, {}} end
local members = {}
for i = 1, #entries, 2 do members[#members + 1] = entries[i] end
local payloads = {}
for i = 1, #members, 1000 do
  local part = redis.call('HMGET', KEYS[2], unpack(members, i, math.min(i + 999, #members)))
  for j = 1, #part do payloads[#payloads + 1] = part[j] end
end
return {entries, payloads}
`

var (
	rangeByRankScript = redis.NewScript(`
local entries = redis.call('ZREVRANGE', KEYS[1], ARGV[1], ARGV[2], 'WITHSCORES')
` + readTail)

	rangeByScoreScript = redis.NewScript(`
local entries = redis.call('ZREVRANGEBYSCORE', KEYS[1], ARGV[1], '-inf', 'WITHSCORES', 'LIMIT', 0, ARGV[2])
` + readTail)

	// returns false when the member is not cached, else the new score
	updateScoreScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return false end
return redis.call('ZINCRBY', KEYS[1], ARGV[2], ARGV[1])
`)

	// overwrites the payload and score of an already cached member; 0 when not cached
	refreshScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

	// returns 0 when the cache is absent; trims the set back to max+1 entries
	insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 or redis.call('EXISTS', KEYS[2]) == 0 then return 0 end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
local excess = redis.call('ZCARD', KEYS[1]) - (tonumber(ARGV[4]) + 1)
if excess > 0 then
  local evicted = redis.call('ZRANGE', KEYS[1], 0, excess - 1)
  redis.call('ZREMRANGEBYRANK', KEYS[1], 0, excess - 1)
  redis.call('HDEL', KEYS[2], unpack(evicted))
end
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[3], 'data', ARGV[5], 'type', ARGV[6])
  redis.call('PEXPIRE', KEYS[3], ARGV[7])
end
return 1
`)
)

// RankedCacheConfig tunes the ranked cache.
type RankedCacheConfig struct {
	KeyPrefix          string
	MaxEntries         int
	MaxScoreDuplicates int
	TTL                time.Duration
	ImageTTL           time.Duration
	Codec              PayloadCodec
}

// RankedCache keeps the top posts in a sorted set (id -> score) next to a hash
// snapshot (id -> payload). Both keys share one TTL. Images live in their own keys.
type RankedCache struct {
	r      redis.Cmdable
	cfg    RankedCacheConfig
	logger *logrus.Logger
}

var _ ports.RankedCache = (*RankedCache)(nil)

// NewRankedCache creates a Redis-backed ranked cache. Zero config values fall back to defaults.
func NewRankedCache(r redis.Cmdable, cfg RankedCacheConfig, logger *logrus.Logger) *RankedCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "posts"
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxScoreDuplicates <= 0 {
		cfg.MaxScoreDuplicates = DefaultMaxScoreDuplicates
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ImageTTL <= 0 {
		cfg.ImageTTL = DefaultImageTTL
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	return &RankedCache{r: r, cfg: cfg, logger: logger}
}

// Keys share a hash tag so scripts stay valid on Redis Cluster.
func (c *RankedCache) rankedKey() string   { return "{" + c.cfg.KeyPrefix + "}:ranked" }
func (c *RankedCache) snapshotKey() string { return "{" + c.cfg.KeyPrefix + "}:snapshot" }
func (c *RankedCache) imageKey(id int64) string {
	return "{" + c.cfg.KeyPrefix + "}:image:" + strconv.FormatInt(id, 10)
}

func (c *RankedCache) MaxEntries() int { return c.cfg.MaxEntries }

func encodeMember(id int64) string {
	return fmt.Sprintf("%0*d", memberWidth, id)
}

func decodeMember(m string) (int64, error) {
	return strconv.ParseInt(m, 10, 64)
}

func toScore(f float64) int64 {
	return int64(math.Round(f))
}

// Populate replaces the ranked set and snapshot in one MULTI/EXEC and resets their TTL.
// Input beyond MaxEntries is ignored.
func (c *RankedCache) Populate(ctx context.Context, posts []post.Post) error {
	if len(posts) > c.cfg.MaxEntries {
		posts = posts[:c.cfg.MaxEntries]
	}
	zs := make([]*redis.Z, 0, len(posts))
	fields := make([]interface{}, 0, 2*len(posts))
	for _, p := range posts {
		payload, err := c.cfg.Codec.Encode(p)
		if err != nil {
			return post.CacheUnavailable("cache.populate", fmt.Errorf("encode post %d: %w", p.ID, err))
		}
		m := encodeMember(p.ID)
		zs = append(zs, &redis.Z{Score: float64(p.Score), Member: m})
		fields = append(fields, m, payload)
	}

	_, err := c.r.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.rankedKey(), c.snapshotKey())
		if len(zs) == 0 {
			return nil
		}
		pipe.ZAdd(ctx, c.rankedKey(), zs...)
		pipe.HSet(ctx, c.snapshotKey(), fields...)
		pipe.Expire(ctx, c.rankedKey(), c.cfg.TTL)
		pipe.Expire(ctx, c.snapshotKey(), c.cfg.TTL)
		return nil
	})
	if err != nil {
		return post.CacheUnavailable("cache.populate", err)
	}
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{"entries": len(zs), "ttl": c.cfg.TTL}).Debug("cache: ranked set populated")
	}
	return nil
}

// IsPresent is true only when both structures exist; one surviving half counts as absent.
func (c *RankedCache) IsPresent(ctx context.Context) (bool, error) {
	n, err := c.r.Exists(ctx, c.rankedKey(), c.snapshotKey()).Result()
	if err != nil {
		return false, post.CacheUnavailable("cache.is_present", err)
	}
	return n == 2, nil
}

func (c *RankedCache) TopN(ctx context.Context, n int) ([]post.Post, error) {
	if n <= 0 {
		return []post.Post{}, nil
	}
	entries, err := c.readRange(ctx, "cache.top", rangeByRankScript, 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	if len(entries) < n {
		return nil, post.Insufficient("cache.top")
	}
	return c.decode("cache.top", entries)
}

// NextN scans at most n+MaxScoreDuplicates entries from the cursor's score downwards.
// Entries sharing the cursor's score are skipped until the cursor's position is passed;
// running out of window first reports an insufficient cache.
func (c *RankedCache) NextN(ctx context.Context, n int, cursor post.Cursor) ([]post.Post, error) {
	if n <= 0 {
		return []post.Post{}, nil
	}
	window := n + c.cfg.MaxScoreDuplicates
	entries, err := c.readRange(ctx, "cache.next", rangeByScoreScript, cursor.LastScore, int64(window))
	if err != nil {
		return nil, err
	}

	start := 0
	for start < len(entries) && !cursor.Admits(entries[start].score, entries[start].id) {
		start++
	}
	rest := entries[start:]
	if len(rest) > n {
		rest = rest[:n]
	}
	if len(rest) < n {
		return nil, post.Insufficient("cache.next")
	}
	return c.decode("cache.next", rest)
}

func (c *RankedCache) UpdateScore(ctx context.Context, id int64, delta int64) (int64, error) {
	res, err := updateScoreScript.Run(ctx, c.r, []string{c.rankedKey()}, encodeMember(id), delta).Text()
	if errors.Is(err, redis.Nil) {
		return 0, post.ErrNotCached
	}
	if err != nil {
		return 0, post.CacheUnavailable("cache.update_score", err)
	}
	f, err := strconv.ParseFloat(res, 64)
	if err != nil {
		return 0, post.CacheUnavailable("cache.update_score", fmt.Errorf("parse score %q: %w", res, err))
	}
	return toScore(f), nil
}

// Insert adds p to a present cache; it never creates the cache on its own.
func (c *RankedCache) Insert(ctx context.Context, p post.Post, img *post.Image) error {
	payload, err := c.cfg.Codec.Encode(p)
	if err != nil {
		return post.CacheUnavailable("cache.insert", fmt.Errorf("encode post %d: %w", p.ID, err))
	}
	var data, contentType string
	if img != nil && len(img.Data) > 0 {
		data, contentType = string(img.Data), img.ContentType
	}
	keys := []string{c.rankedKey(), c.snapshotKey(), c.imageKey(p.ID)}
	inserted, err := insertScript.Run(ctx, c.r, keys,
		encodeMember(p.ID), p.Score, payload, c.cfg.MaxEntries,
		data, contentType, c.cfg.ImageTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return post.CacheUnavailable("cache.insert", err)
	}
	if inserted == 0 {
		return post.ErrCacheAbsent
	}
	return nil
}

// Refresh rewrites a cached post's payload and score in place. It reports false and
// leaves the cache untouched when the post is not cached.
func (c *RankedCache) Refresh(ctx context.Context, p post.Post) (bool, error) {
	payload, err := c.cfg.Codec.Encode(p)
	if err != nil {
		return false, post.CacheUnavailable("cache.refresh", fmt.Errorf("encode post %d: %w", p.ID, err))
	}
	n, err := refreshScript.Run(ctx, c.r, []string{c.rankedKey(), c.snapshotKey()},
		encodeMember(p.ID), p.Score, payload,
	).Int64()
	if err != nil {
		return false, post.CacheUnavailable("cache.refresh", err)
	}
	return n == 1, nil
}

// Remove deletes the post from the ranked set, the snapshot and the image store at once.
func (c *RankedCache) Remove(ctx context.Context, id int64) error {
	m := encodeMember(id)
	_, err := c.r.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, c.rankedKey(), m)
		pipe.HDel(ctx, c.snapshotKey(), m)
		pipe.Del(ctx, c.imageKey(id))
		return nil
	})
	if err != nil {
		return post.CacheUnavailable("cache.remove", err)
	}
	return nil
}

func (c *RankedCache) LowestScore(ctx context.Context) (int64, bool, error) {
	zs, err := c.r.ZRangeWithScores(ctx, c.rankedKey(), 0, 0).Result()
	if err != nil {
		return 0, false, post.CacheUnavailable("cache.lowest_score", err)
	}
	if len(zs) == 0 {
		return 0, false, nil
	}
	return toScore(zs[0].Score), true, nil
}

func (c *RankedCache) Size(ctx context.Context) (int64, error) {
	n, err := c.r.ZCard(ctx, c.rankedKey()).Result()
	if err != nil {
		return 0, post.CacheUnavailable("cache.size", err)
	}
	return n, nil
}

func (c *RankedCache) Invalidate(ctx context.Context) error {
	if err := c.r.Del(ctx, c.rankedKey(), c.snapshotKey()).Err(); err != nil {
		return post.CacheUnavailable("cache.invalidate", err)
	}
	if c.logger != nil {
		c.logger.Info("cache: ranked set invalidated")
	}
	return nil
}

// GetImage returns a cached image and refreshes its TTL on hit.
func (c *RankedCache) GetImage(ctx context.Context, id int64) (*post.Image, bool, error) {
	key := c.imageKey(id)
	var fields *redis.StringStringMapCmd
	_, err := c.r.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, key)
		pipe.PExpire(ctx, key, c.cfg.ImageTTL)
		return nil
	})
	if err != nil {
		return nil, false, post.CacheUnavailable("cache.get_image", err)
	}
	m := fields.Val()
	data, ok := m["data"]
	if !ok {
		return nil, false, nil
	}
	return &post.Image{Data: []byte(data), ContentType: m["type"]}, true, nil
}

func (c *RankedCache) SetImage(ctx context.Context, id int64, img post.Image) error {
	key := c.imageKey(id)
	_, err := c.r.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "data", img.Data, "type", img.ContentType)
		pipe.PExpire(ctx, key, c.cfg.ImageTTL)
		return nil
	})
	if err != nil {
		return post.CacheUnavailable("cache.set_image", err)
	}
	return nil
}

type rankedEntry struct {
	id      int64
	score   int64
	payload *string
}

func (c *RankedCache) readRange(ctx context.Context, op string, script *redis.Script, a, b int64) ([]rankedEntry, error) {
	res, err := script.Run(ctx, c.r, []string{c.rankedKey(), c.snapshotKey()}, a, b).Slice()
	if err != nil {
		return nil, post.CacheUnavailable(op, err)
	}
	if len(res) != 2 {
		return nil, post.CacheUnavailable(op, fmt.Errorf("unexpected script reply of %d elements", len(res)))
	}
	flat, _ := res[0].([]interface{})
	payloads, _ := res[1].([]interface{})
	if len(flat)%2 != 0 || len(payloads) != len(flat)/2 {
		return nil, post.CacheUnavailable(op, fmt.Errorf("malformed script reply"))
	}

	entries := make([]rankedEntry, 0, len(payloads))
	for i := 0; i < len(flat); i += 2 {
		member, _ := flat[i].(string)
		rawScore, _ := flat[i+1].(string)
		id, err := decodeMember(member)
		if err != nil {
			return nil, post.CacheUnavailable(op, fmt.Errorf("bad member %q: %w", member, err))
		}
		f, err := strconv.ParseFloat(rawScore, 64)
		if err != nil {
			return nil, post.CacheUnavailable(op, fmt.Errorf("bad score %q: %w", rawScore, err))
		}
		e := rankedEntry{id: id, score: toScore(f)}
		if s, ok := payloads[i/2].(string); ok {
			e.payload = &s
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// decode hydrates entries from their snapshot payloads. The ranked set owns the score.
func (c *RankedCache) decode(op string, entries []rankedEntry) ([]post.Post, error) {
	out := make([]post.Post, 0, len(entries))
	for _, e := range entries {
		if e.payload == nil {
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{"post_id": e.id, "op": op}).Warn("cache: ranked entry has no snapshot payload")
			}
			return nil, post.CacheUnavailable(op, post.ErrSnapshotDiverged)
		}
		p, err := c.cfg.Codec.Decode([]byte(*e.payload))
		if err != nil {
			return nil, post.CacheUnavailable(op, fmt.Errorf("decode post %d: %w", e.id, err))
		}
		p.ID = e.id
		p.Score = e.score
		out = append(out, p)
	}
	return out, nil
}
