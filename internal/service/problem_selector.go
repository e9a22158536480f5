package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/codeduel/duel-backend/internal/models"
)

// ProblemSelector 매치마다 고정되는 문제 세트 선택
type ProblemSelector struct {
	problems ProblemStore
	spread   int
	lookback time.Duration
	now      func() time.Time
}

func NewProblemSelector(problems ProblemStore, spread int, lookback time.Duration) *ProblemSelector {
	return &ProblemSelector{
		problems: problems,
		spread:   spread,
		lookback: lookback,
		now:      time.Now,
	}
}

// SelectProblems target 레이팅에 가까운 문제 count 개.
// excludeRecentlySeenBy 가 lookback 안에 본 문제는 다른 후보가 모자랄 때만 (오래 전에 본 것부터) 쓴다.
// topicDiversity 면 대표 토픽이 겹치지 않는 문제를 먼저 채운다.
func (s *ProblemSelector) SelectProblems(ctx context.Context, targetRating, count int, excludeRecentlySeenBy []string, topicDiversity bool) ([]string, error) {
	candidates, err := s.problems.ListByRating(ctx, targetRating-s.spread, targetRating+s.spread)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	if len(candidates) < count {
		candidates, err = s.problems.ListByRating(ctx, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, fmt.Errorf("failed to list problems: %w", err)
		}
	}
	if len(candidates) < count {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughProblems, count, len(candidates))
	}

	seen := map[string]time.Time{}
	if len(excludeRecentlySeenBy) > 0 && s.lookback > 0 {
		seen, err = s.problems.LastSeen(ctx, excludeRecentlySeenBy, s.now().Add(-s.lookback))
		if err != nil {
			return nil, fmt.Errorf("failed to load problem exposures: %w", err)
		}
	}

	var fresh, stale []*models.Problem
	for _, p := range candidates {
		if _, ok := seen[p.ID]; ok {
			stale = append(stale, p)
		} else {
			fresh = append(fresh, p)
		}
	}

	byDistance := func(list []*models.Problem) {
		sort.SliceStable(list, func(i, j int) bool {
			di := abs(list[i].Rating - targetRating)
			dj := abs(list[j].Rating - targetRating)
			if di != dj {
				return di < dj
			}
			return list[i].ID < list[j].ID
		})
	}
	byDistance(fresh)
	byDistance(stale)
	// 오래 전에 본 문제부터 재사용
	sort.SliceStable(stale, func(i, j int) bool {
		return seen[stale[i].ID].Before(seen[stale[j].ID])
	})

	picked := pick(fresh, count, topicDiversity)
	if len(picked) < count {
		picked = append(picked, pick(stale, count-len(picked), false)...)
	}

	ids := make([]string, len(picked))
	for i, p := range picked {
		ids[i] = p.ID
	}
	return ids, nil
}

// RecordExposure 사용자에게 문제 세트가 노출됐음을 기록
func (s *ProblemSelector) RecordExposure(ctx context.Context, userID string, problemIDs []string) error {
	return s.problems.RecordExposure(ctx, userID, problemIDs, s.now())
}

// pick 순서대로 count 개. diverse 면 첫 패스에서 토픽당 하나씩
func pick(ordered []*models.Problem, count int, diverse bool) []*models.Problem {
	if count <= 0 {
		return nil
	}

	out := make([]*models.Problem, 0, count)
	taken := make(map[string]bool, count)

	if diverse {
		topics := map[string]bool{}
		for _, p := range ordered {
			if len(out) == count {
				return out
			}
			if topics[p.PrimaryTopic()] {
				continue
			}
			topics[p.PrimaryTopic()] = true
			taken[p.ID] = true
			out = append(out, p)
		}
	}

	for _, p := range ordered {
		if len(out) == count {
			break
		}
		if taken[p.ID] {
			continue
		}
		taken[p.ID] = true
		out = append(out, p)
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
