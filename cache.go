package main

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// cachedRepository remembers per-member lookups for a short time so that
// evaluating several measures for the same member costs one fetch per resource.
// Member searches are never cached. Ids are passed on without the Patient/
// prefix.
type cachedRepository struct {
	Repository
	cache *gocache.Cache
	ttl   time.Duration
}

func newCachedRepository(repo Repository, ttl time.Duration) Repository {
	if ttl <= 0 {
		return repo
	}
	return &cachedRepository{
		Repository: repo,
		cache:      gocache.New(ttl, 2*ttl),
		ttl:        ttl,
	}
}

func (r *cachedRepository) FetchConditions(ctx context.Context, memberID string) ([]Condition, error) {
	memberID = stripPatientPrefix(memberID)
	key := "Condition/" + memberID
	if val, found := r.cache.Get(key); found {
		return val.([]Condition), nil
	}

	conditions, err := r.Repository.FetchConditions(ctx, memberID)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, conditions, r.ttl)
	return conditions, nil
}

func (r *cachedRepository) FetchClaims(ctx context.Context, memberID string) ([]Claim, error) {
	memberID = stripPatientPrefix(memberID)
	key := "Claim/" + memberID
	if val, found := r.cache.Get(key); found {
		return val.([]Claim), nil
	}

	claims, err := r.Repository.FetchClaims(ctx, memberID)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, claims, r.ttl)
	return claims, nil
}

// Flush drops everything cached.
func (r *cachedRepository) Flush() {
	r.cache.Flush()
}
