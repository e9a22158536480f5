package distributed

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codeduel/duel-backend/internal/models"
)

// 상태 전이는 모두 Lua 스크립트 하나로 검사+쓰기 (Redis 단일 스레드 실행이 CAS 역할)
var (
	// KEYS: match, waiting, waiting:created, live, player2 open set
	// ARGV: id, player2, startedAt(ms)
	claimScript = redis.NewScript(`
		if redis.call('HGET', KEYS[1], 'state') ~= 'waiting' then return 0 end
		local p2 = redis.call('HGET', KEYS[1], 'player2_id')
		if p2 and p2 ~= '' then return 0 end
		if redis.call('HGET', KEYS[1], 'player1_id') == ARGV[2] then return 0 end
		redis.call('HSET', KEYS[1], 'state', 'live', 'player2_id', ARGV[2], 'started_at', ARGV[3])
		redis.call('ZREM', KEYS[2], ARGV[1])
		redis.call('ZREM', KEYS[3], ARGV[1])
		redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
		redis.call('SADD', KEYS[5], ARGV[1])
		return 1
	`)

	// KEYS: match, waiting, waiting:created, player1 open set
	// ARGV: id, player1
	cancelScript = redis.NewScript(`
		if redis.call('HGET', KEYS[1], 'state') ~= 'waiting' then return 0 end
		local p2 = redis.call('HGET', KEYS[1], 'player2_id')
		if p2 and p2 ~= '' then return 0 end
		if redis.call('HGET', KEYS[1], 'player1_id') ~= ARGV[2] then return 0 end
		redis.call('DEL', KEYS[1])
		redis.call('ZREM', KEYS[2], ARGV[1])
		redis.call('ZREM', KEYS[3], ARGV[1])
		redis.call('SREM', KEYS[4], ARGV[1])
		return 1
	`)

	// KEYS: match, live, player1 open set, player2 open set
	// ARGV: id, winner, reason, finishedAt(ms), retention(ms)
	finishScript = redis.NewScript(`
		if redis.call('HGET', KEYS[1], 'state') ~= 'live' then return 0 end
		redis.call('HSET', KEYS[1], 'state', 'finished', 'winner_id', ARGV[2], 'end_reason', ARGV[3], 'finished_at', ARGV[4])
		redis.call('PEXPIRE', KEYS[1], ARGV[5])
		redis.call('ZREM', KEYS[2], ARGV[1])
		redis.call('SREM', KEYS[3], ARGV[1])
		redis.call('SREM', KEYS[4], ARGV[1])
		return 1
	`)
)

// RedisMatchStore Redis 기반 매치 저장소 (MATCH_STORE=redis)
//
// Keys:
//   <prefix>:match:<id>                 HASH  매치 필드
//   <prefix>:waiting:<type>:<mode>      ZSET  id -> rating (윈도우 검색용)
//   <prefix>:waiting:created            ZSET  id -> createdAt(ms) (reaper 용)
//   <prefix>:live                       ZSET  id -> startedAt(ms)
//   <prefix>:player:<userId>:open       SET   waiting/live 매치 id
//
// 끝난 매치 해시는 FinishedRetention 뒤에 만료된다 (결과의 영구 보관은 Postgres 몫).
type RedisMatchStore struct {
	client redis.UniversalClient
	prefix string

	FinishedRetention time.Duration
}

// DefaultFinishedRetention 끝난 매치를 Redis 에 남겨 두는 기간
const DefaultFinishedRetention = 7 * 24 * time.Hour

func NewRedisMatchStore(client redis.UniversalClient, prefix string) *RedisMatchStore {
	if prefix == "" {
		prefix = "duel"
	}
	return &RedisMatchStore{client: client, prefix: prefix, FinishedRetention: DefaultFinishedRetention}
}

func (s *RedisMatchStore) matchKey(id string) string {
	return fmt.Sprintf("%s:match:%s", s.prefix, id)
}

func (s *RedisMatchStore) waitingKey(t models.MatchType, m models.MatchMode) string {
	return fmt.Sprintf("%s:waiting:%s:%s", s.prefix, t, m)
}

func (s *RedisMatchStore) createdKey() string {
	return s.prefix + ":waiting:created"
}

func (s *RedisMatchStore) liveKey() string {
	return s.prefix + ":live"
}

func (s *RedisMatchStore) openKey(userID string) string {
	return fmt.Sprintf("%s:player:%s:open", s.prefix, userID)
}

// Create waiting 매치 저장
func (s *RedisMatchStore) Create(ctx context.Context, match *models.Match) error {
	if match.ID == "" {
		match.ID = uuid.New().String()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now().UTC()
	}
	match.State = models.MatchStateWaiting
	match.Player2ID = nil

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.matchKey(match.ID), encodeMatch(match))
	pipe.ZAdd(ctx, s.waitingKey(match.MatchType, match.Mode), redis.Z{Score: float64(match.Rating), Member: match.ID})
	pipe.ZAdd(ctx, s.createdKey(), redis.Z{Score: float64(match.CreatedAt.UnixMilli()), Member: match.ID})
	pipe.SAdd(ctx, s.openKey(match.Player1ID), match.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	return nil
}

// FindByID 없으면 nil, nil
func (s *RedisMatchStore) FindByID(ctx context.Context, id string) (*models.Match, error) {
	fields, err := s.client.HGetAll(ctx, s.matchKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeMatch(fields)
}

func (s *RedisMatchStore) findMany(ctx context.Context, ids []string) ([]*models.Match, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.matchKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load matches: %w", err)
	}

	matches := make([]*models.Match, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// 인덱스에만 남은 id (이미 취소됨)
			continue
		}
		m, err := decodeMatch(fields)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// FindWaitingCandidate 레이팅 윈도우 안에서 가장 가까운, 같으면 가장 오래된 waiting 매치
func (s *RedisMatchStore) FindWaitingCandidate(ctx context.Context, q models.CandidateQuery) (*models.Match, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.waitingKey(q.MatchType, q.Mode), &redis.ZRangeBy{
		Min: strconv.Itoa(q.MinRating),
		Max: strconv.Itoa(q.MaxRating),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search waiting matches: %w", err)
	}

	matches, err := s.findMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Match
	for _, m := range matches {
		if m.State != models.MatchStateWaiting || m.Player2ID != nil || m.Player1ID == q.ExcludeID {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := abs(candidates[i].Rating-q.Center), abs(candidates[j].Rating-q.Center)
		if di != dj {
			return di < dj
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	return candidates[0], nil
}

// FindOpenByPlayer 사용자가 참가 중인 waiting/live 매치 (같은 타입/모드)
func (s *RedisMatchStore) FindOpenByPlayer(ctx context.Context, userID string, matchType models.MatchType, mode models.MatchMode) (*models.Match, error) {
	ids, err := s.client.SMembers(ctx, s.openKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open matches: %w", err)
	}

	matches, err := s.findMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	var latest *models.Match
	for _, m := range matches {
		if m.State == models.MatchStateFinished || m.MatchType != matchType || m.Mode != mode {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	return latest, nil
}

func (s *RedisMatchStore) CountWaiting(ctx context.Context, matchType models.MatchType, mode models.MatchMode) (int, error) {
	n, err := s.client.ZCard(ctx, s.waitingKey(matchType, mode)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting matches: %w", err)
	}
	return int(n), nil
}

// ClaimWaiting waiting 이고 player2 가 비어 있을 때만 live 로 전환. false 는 경쟁에서 짐
func (s *RedisMatchStore) ClaimWaiting(ctx context.Context, matchID, player2ID string, startedAt time.Time) (bool, error) {
	match, err := s.FindByID(ctx, matchID)
	if err != nil || match == nil {
		return false, err
	}

	n, err := claimScript.Run(ctx, s.client,
		[]string{
			s.matchKey(matchID),
			s.waitingKey(match.MatchType, match.Mode),
			s.createdKey(),
			s.liveKey(),
			s.openKey(player2ID),
		},
		matchID, player2ID, startedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim match: %w", err)
	}
	return n == 1, nil
}

// CancelWaiting 아직 아무도 참가하지 않은 자신의 waiting 매치만 삭제
func (s *RedisMatchStore) CancelWaiting(ctx context.Context, matchID, player1ID string) (bool, error) {
	match, err := s.FindByID(ctx, matchID)
	if err != nil || match == nil {
		return false, err
	}
	return s.cancel(ctx, match, player1ID)
}

func (s *RedisMatchStore) cancel(ctx context.Context, match *models.Match, player1ID string) (bool, error) {
	n, err := cancelScript.Run(ctx, s.client,
		[]string{
			s.matchKey(match.ID),
			s.waitingKey(match.MatchType, match.Mode),
			s.createdKey(),
			s.openKey(player1ID),
		},
		match.ID, player1ID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to cancel match: %w", err)
	}
	return n == 1, nil
}

// Finish live -> finished. 이미 끝난 매치면 false
func (s *RedisMatchStore) Finish(ctx context.Context, matchID string, outcome models.MatchOutcome, finishedAt time.Time) (bool, error) {
	match, err := s.FindByID(ctx, matchID)
	if err != nil || match == nil {
		return false, err
	}
	if match.State != models.MatchStateLive || match.Player2ID == nil {
		return false, nil
	}

	winner := ""
	if outcome.WinnerID != nil {
		winner = *outcome.WinnerID
	}

	n, err := finishScript.Run(ctx, s.client,
		[]string{
			s.matchKey(matchID),
			s.liveKey(),
			s.openKey(match.Player1ID),
			s.openKey(*match.Player2ID),
		},
		matchID, winner, string(outcome.Reason), finishedAt.UnixMilli(), s.FinishedRetention.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to finish match: %w", err)
	}
	return n == 1, nil
}

// DeleteStaleWaiting createdBefore 이전에 만들어진 waiting 매치를 삭제하고 삭제된 매치 반환
func (s *RedisMatchStore) DeleteStaleWaiting(ctx context.Context, createdBefore time.Time) ([]*models.Match, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.createdKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(createdBefore.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale matches: %w", err)
	}

	matches, err := s.findMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	var deleted []*models.Match
	for _, m := range matches {
		ok, err := s.cancel(ctx, m, m.Player1ID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted = append(deleted, m)
		}
	}
	return deleted, nil
}

// ListExpiredLive startedBefore 이전에 시작한 live 매치
func (s *RedisMatchStore) ListExpiredLive(ctx context.Context, startedBefore time.Time, limit int) ([]*models.Match, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.liveKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(startedBefore.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired matches: %w", err)
	}

	return s.findMany(ctx, ids)
}

func encodeMatch(m *models.Match) map[string]interface{} {
	fields := map[string]interface{}{
		"id":              m.ID,
		"match_type":      string(m.MatchType),
		"mode":            string(m.Mode),
		"state":           string(m.State),
		"player1_id":      m.Player1ID,
		"player2_id":      "",
		"rating":          m.Rating,
		"problem_ids":     strings.Join(m.ProblemIDs, ","),
		"fog_of_progress": strconv.FormatBool(m.FogOfProgress),
		"winner_id":       "",
		"end_reason":      "",
		"created_at":      m.CreatedAt.UnixMilli(),
		"started_at":      "",
		"finished_at":     "",
	}
	if m.Player2ID != nil {
		fields["player2_id"] = *m.Player2ID
	}
	if m.WinnerID != nil {
		fields["winner_id"] = *m.WinnerID
	}
	if m.EndReason != nil {
		fields["end_reason"] = string(*m.EndReason)
	}
	if m.StartedAt != nil {
		fields["started_at"] = m.StartedAt.UnixMilli()
	}
	if m.FinishedAt != nil {
		fields["finished_at"] = m.FinishedAt.UnixMilli()
	}
	return fields
}

func decodeMatch(f map[string]string) (*models.Match, error) {
	rating, err := strconv.Atoi(f["rating"])
	if err != nil {
		return nil, fmt.Errorf("corrupt match %s: rating: %w", f["id"], err)
	}
	createdAt, err := parseMillis(f["created_at"])
	if err != nil || createdAt == nil {
		return nil, fmt.Errorf("corrupt match %s: created_at", f["id"])
	}

	m := &models.Match{
		ID:            f["id"],
		MatchType:     models.MatchType(f["match_type"]),
		Mode:          models.MatchMode(f["mode"]),
		State:         models.MatchState(f["state"]),
		Player1ID:     f["player1_id"],
		Rating:        rating,
		FogOfProgress: f["fog_of_progress"] == "true",
		CreatedAt:     *createdAt,
	}
	if ids := f["problem_ids"]; ids != "" {
		m.ProblemIDs = strings.Split(ids, ",")
	}
	if v := f["player2_id"]; v != "" {
		m.Player2ID = &v
	}
	if v := f["winner_id"]; v != "" {
		m.WinnerID = &v
	}
	if v := f["end_reason"]; v != "" {
		r := models.EndReason(v)
		m.EndReason = &r
	}
	if m.StartedAt, err = parseMillis(f["started_at"]); err != nil {
		return nil, fmt.Errorf("corrupt match %s: started_at: %w", f["id"], err)
	}
	if m.FinishedAt, err = parseMillis(f["finished_at"]); err != nil {
		return nil, fmt.Errorf("corrupt match %s: finished_at: %w", f["id"], err)
	}
	return m, nil
}

func parseMillis(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
