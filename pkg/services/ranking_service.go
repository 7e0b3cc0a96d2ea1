package services

import (
	"context"
	"fmt"

	"github.com/aragora/aragora/pkg/cache"
	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/storage"
)

// AgentProfile is one agent's standing plus its flip history.
type AgentProfile struct {
	Rating     *models.AgentRating     `json:"rating"`
	FlipCounts map[models.FlipType]int `json:"flip_counts"`
	Positions  int                     `json:"positions"`
}

// RankingService serves leaderboard, match, and flip reads. The hot queries
// are fronted by TTL caches so a polling dashboard does not hammer SQLite.
type RankingService struct {
	store *storage.Store

	leaderboard *cache.Cache
	matches     *cache.Cache
	profiles    *cache.Cache
}

// NewRankingService creates a ranking service.
func NewRankingService(store *storage.Store) *RankingService {
	return &RankingService{
		store:       store,
		leaderboard: cache.New(cache.LeaderboardTTL, cache.DefaultMaxEntries),
		matches:     cache.New(cache.RecentMatchesTTL, cache.DefaultMaxEntries),
		profiles:    cache.New(cache.AgentProfileTTL, cache.DefaultMaxEntries),
	}
}

// Leaderboard returns agents ranked by ELO within a domain.
func (s *RankingService) Leaderboard(ctx context.Context, domain string, limit int) ([]*models.AgentRating, error) {
	limit = clampLimit(limit)
	key := fmt.Sprintf("leaderboard:%s:%d", domain, limit)
	if v, ok := s.leaderboard.Get(key); ok {
		return v.([]*models.AgentRating), nil
	}

	ratings, err := s.store.Leaderboard(ctx, domain, limit)
	if err != nil {
		return nil, err
	}
	s.leaderboard.Set(key, ratings)
	return ratings, nil
}

// RecentMatches returns the newest matches.
func (s *RankingService) RecentMatches(ctx context.Context, limit int) ([]*models.Match, error) {
	limit = clampLimit(limit)
	key := fmt.Sprintf("matches:%d", limit)
	if v, ok := s.matches.Get(key); ok {
		return v.([]*models.Match), nil
	}

	matches, err := s.store.RecentMatches(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.matches.Set(key, matches)
	return matches, nil
}

// RecentFlips returns the newest flips, optionally for one agent.
func (s *RankingService) RecentFlips(ctx context.Context, agent string, limit int) ([]*models.Flip, error) {
	return s.store.RecentFlips(ctx, agent, clampLimit(limit))
}

// FlipSummary returns system-wide flip counts by type.
func (s *RankingService) FlipSummary(ctx context.Context) (map[models.FlipType]int, error) {
	return s.store.FlipSummary(ctx)
}

// AgentProfile returns one agent's rating, consistency, and flip history.
func (s *RankingService) AgentProfile(ctx context.Context, agent, domain string) (*AgentProfile, error) {
	key := fmt.Sprintf("profile:%s:%s", agent, domain)
	if v, ok := s.profiles.Get(key); ok {
		return v.(*AgentProfile), nil
	}

	rating, err := s.store.GetRating(ctx, agent, domain)
	if err != nil {
		return nil, err
	}
	counts, positions, err := s.store.FlipCounts(ctx, agent)
	if err != nil {
		return nil, err
	}

	p := &AgentProfile{Rating: rating, FlipCounts: counts, Positions: positions}
	s.profiles.Set(key, p)
	return p, nil
}
