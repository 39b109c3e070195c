package repository

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

const linkClaimPrefix = "studio:link-claim:"

// claimKey hashes a sign-in link so the one time code is never stored.
func claimKey(link string) string {
	sum := sha256.Sum256([]byte(link))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// LinkClaimModel is the Bun model for claimed sign-in links.
type LinkClaimModel struct {
	bun.BaseModel `bun:"table:link_claims"`

	Key       string    `bun:"claim_key,pk"`
	ClaimedAt time.Time `bun:"claimed_at,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

// LinkClaims implements auth.LinkClaims with a unique insert.
type LinkClaims struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

// NewLinkClaims creates a claim table whose rows expire after ttl.
func NewLinkClaims(db *bun.DB, ttl time.Duration) *LinkClaims {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LinkClaims{db: db, ttl: ttl, now: time.Now}
}

func (c *LinkClaims) Claim(ctx context.Context, link string) (bool, error) {
	key := claimKey(link)
	now := c.now().UTC()

	var claimed bool
	err := c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*LinkClaimModel)(nil)).
			Where("claim_key = ? AND expires_at <= ?", key, now).
			Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewInsert().
			Model(&LinkClaimModel{Key: key, ClaimedAt: now, ExpiresAt: now.Add(c.ttl)}).
			On("CONFLICT (claim_key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n == 1
		return err
	})
	return claimed, err
}

func (c *LinkClaims) Release(ctx context.Context, link string) error {
	_, err := c.db.NewDelete().
		Model((*LinkClaimModel)(nil)).
		Where("claim_key = ?", claimKey(link)).
		Exec(ctx)
	return err
}

// RedisLinkClaims implements auth.LinkClaims with SETNX, so every process
// sharing the redis instance sees the same claims.
type RedisLinkClaims struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisLinkClaims(client redis.Cmdable, ttl time.Duration) *RedisLinkClaims {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLinkClaims{client: client, ttl: ttl}
}

func (c *RedisLinkClaims) Claim(ctx context.Context, link string) (bool, error) {
	return c.client.SetNX(ctx, linkClaimPrefix+claimKey(link), "1", c.ttl).Result()
}

func (c *RedisLinkClaims) Release(ctx context.Context, link string) error {
	return c.client.Del(ctx, linkClaimPrefix+claimKey(link)).Err()
}
