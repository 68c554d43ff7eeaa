package salience

import (
	"context"
	"fmt"

	gocache "github.com/patrickmn/go-cache"

	"github.com/roach88/atlas/internal/projection"
)

// Cache memoizes scores by artifact, state positions and config digest.
// Scores are pure functions of those inputs, so a hit is always correct;
// the TTL only bounds memory.
type Cache struct {
	cfg    Config
	digest string
	cache  *gocache.Cache
}

// NewCache returns a cache for cfg. Expired entries are dropped lazily by
// Purge; no background janitor runs.
func NewCache(cfg Config) *Cache {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Cache{
		cfg:    cfg,
		digest: cfg.Digest(),
		cache:  gocache.New(ttl, 0),
	}
}

// Config returns the scoring config.
func (c *Cache) Config() Config {
	return c.cfg
}

// Score returns the cached score or computes and stores it.
func (c *Cache) Score(current, prior *projection.State, artifactID string) (Score, error) {
	key := c.key(current, prior, artifactID)
	if v, ok := c.cache.Get(key); ok {
		return v.(Score), nil
	}
	s, err := Compute(current, prior, artifactID, c.cfg)
	if err != nil {
		return Score{}, err
	}
	c.cache.SetDefault(key, s)
	return s, nil
}

// ScoreAll is ComputeAll through the cache.
func (c *Cache) ScoreAll(ctx context.Context, current, prior *projection.State) ([]Score, error) {
	ids := current.ArtifactIDs()
	out := make([]Score, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := c.Score(current, prior, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortScores(out)
	return out, nil
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	return c.cache.ItemCount()
}

// Purge drops expired entries.
func (c *Cache) Purge() {
	c.cache.DeleteExpired()
}

func (c *Cache) key(current, prior *projection.State, artifactID string) string {
	priorKey := "-"
	if prior != nil {
		priorKey = fmt.Sprintf("%d:%s", prior.Position, prior.Checksum)
	}
	return fmt.Sprintf("%s|%d:%s|%s|%s", artifactID, current.Position, current.Checksum, priorKey, c.digest)
}
