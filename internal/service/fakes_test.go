package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/codeduel/duel-backend/internal/models"
)

var errStoreDown = errors.New("store unavailable")

// memMatchStore 조건부 쓰기를 mutex 로 구현한 인메모리 MatchStore
type memMatchStore struct {
	mu      sync.Mutex
	seq     int
	matches map[string]*models.Match
}

func newMemMatchStore() *memMatchStore {
	return &memMatchStore{matches: map[string]*models.Match{}}
}

func cloneMatch(m *models.Match) *models.Match {
	c := *m
	c.ProblemIDs = append([]string(nil), m.ProblemIDs...)
	if m.Player2ID != nil {
		p2 := *m.Player2ID
		c.Player2ID = &p2
	}
	if m.WinnerID != nil {
		w := *m.WinnerID
		c.WinnerID = &w
	}
	if m.EndReason != nil {
		r := *m.EndReason
		c.EndReason = &r
	}
	if m.StartedAt != nil {
		t := *m.StartedAt
		c.StartedAt = &t
	}
	if m.FinishedAt != nil {
		t := *m.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (s *memMatchStore) Create(_ context.Context, match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	match.ID = fmt.Sprintf("match-%d", s.seq)
	s.matches[match.ID] = cloneMatch(match)
	return nil
}

func (s *memMatchStore) FindByID(_ context.Context, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, nil
	}
	return cloneMatch(m), nil
}

func (s *memMatchStore) FindWaitingCandidate(_ context.Context, q models.CandidateQuery) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Match
	for _, m := range s.matches {
		if m.MatchType != q.MatchType || m.Mode != q.Mode || m.State != models.MatchStateWaiting ||
			m.Player2ID != nil || m.Player1ID == q.ExcludeID ||
			m.Rating < q.MinRating || m.Rating > q.MaxRating {
			continue
		}
		if best == nil {
			best = m
			continue
		}
		db, dm := abs(best.Rating-q.Center), abs(m.Rating-q.Center)
		if dm < db || (dm == db && m.CreatedAt.Before(best.CreatedAt)) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneMatch(best), nil
}

func (s *memMatchStore) FindOpenByPlayer(_ context.Context, userID string, matchType models.MatchType, mode models.MatchMode) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.MatchType == matchType && m.Mode == mode && m.State != models.MatchStateFinished && m.HasPlayer(userID) {
			return cloneMatch(m), nil
		}
	}
	return nil, nil
}

func (s *memMatchStore) CountWaiting(_ context.Context, matchType models.MatchType, mode models.MatchMode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.matches {
		if m.MatchType == matchType && m.Mode == mode && m.State == models.MatchStateWaiting {
			n++
		}
	}
	return n, nil
}

func (s *memMatchStore) ClaimWaiting(_ context.Context, matchID, player2ID string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok || m.State != models.MatchStateWaiting || m.Player2ID != nil {
		return false, nil
	}
	m.Player2ID = &player2ID
	m.State = models.MatchStateLive
	m.StartedAt = &startedAt
	return true, nil
}

func (s *memMatchStore) CancelWaiting(_ context.Context, matchID, player1ID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok || m.State != models.MatchStateWaiting || m.Player2ID != nil || m.Player1ID != player1ID {
		return false, nil
	}
	delete(s.matches, matchID)
	return true, nil
}

func (s *memMatchStore) Finish(_ context.Context, matchID string, outcome models.MatchOutcome, finishedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok || m.State != models.MatchStateLive {
		return false, nil
	}
	m.State = models.MatchStateFinished
	m.WinnerID = outcome.WinnerID
	reason := outcome.Reason
	m.EndReason = &reason
	m.FinishedAt = &finishedAt
	return true, nil
}

func (s *memMatchStore) DeleteStaleWaiting(_ context.Context, createdBefore time.Time) ([]*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Match
	for id, m := range s.matches {
		if m.State == models.MatchStateWaiting && m.Player2ID == nil && m.CreatedAt.Before(createdBefore) {
			out = append(out, cloneMatch(m))
			delete(s.matches, id)
		}
	}
	return out, nil
}

func (s *memMatchStore) ListExpiredLive(_ context.Context, startedBefore time.Time, limit int) ([]*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Match
	for _, m := range s.matches {
		if m.State == models.MatchStateLive && m.StartedAt != nil && !m.StartedAt.After(startedBefore) {
			out = append(out, cloneMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memRatingStore
type memRatingStore struct {
	mu       sync.Mutex
	ratings  map[string]models.PlayerRating
	history  []*models.RatingHistory
	applyErr error
	applies  int
}

func newMemRatingStore() *memRatingStore {
	return &memRatingStore{ratings: map[string]models.PlayerRating{}}
}

func ratingKey(userID string, mode models.MatchType) string {
	return userID + "/" + string(mode)
}

func (s *memRatingStore) set(r models.PlayerRating) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[ratingKey(r.UserID, r.Mode)] = r
}

func (s *memRatingStore) get(userID string, mode models.MatchType) (models.PlayerRating, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratings[ratingKey(userID, mode)]
	return r, ok
}

func (s *memRatingStore) GetOrCreate(_ context.Context, userID string, mode models.MatchType) (*models.PlayerRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ratingKey(userID, mode)
	r, ok := s.ratings[key]
	if !ok {
		r = models.NewPlayerRating(userID, mode)
		s.ratings[key] = r
	}
	return &r, nil
}

func (s *memRatingStore) ApplyUpdates(_ context.Context, updates []models.RatingUpdate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applies++
	if s.applyErr != nil {
		return 0, s.applyErr
	}

	applied := 0
	for _, u := range updates {
		dup := false
		for _, h := range s.history {
			if h.MatchID == u.MatchID && h.UserID == u.UserID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		s.history = append(s.history, &models.RatingHistory{
			ID:           fmt.Sprintf("h%d", len(s.history)+1),
			UserID:       u.UserID,
			MatchID:      u.MatchID,
			Mode:         u.Mode,
			RatingBefore: u.RatingBefore,
			RatingAfter:  u.RatingAfter,
			Delta:        u.Delta,
		})
		s.ratings[ratingKey(u.UserID, u.Mode)] = u.Next
		applied++
	}
	return applied, nil
}

func (s *memRatingStore) History(_ context.Context, userID string, mode models.MatchType, limit int) ([]*models.RatingHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RatingHistory
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if h := s.history[i]; h.UserID == userID && h.Mode == mode {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memRatingStore) historyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// memLimitStore
type memLimitStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemLimitStore() *memLimitStore {
	return &memLimitStore{counts: map[string]int{}}
}

func limitKey(userID string, date time.Time) string {
	return userID + "/" + date.Format("2006-01-02")
}

func (s *memLimitStore) MatchesPlayed(_ context.Context, userID string, date time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[limitKey(userID, date)], nil
}

func (s *memLimitStore) Increment(_ context.Context, userID string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[limitKey(userID, date)]++
	return nil
}

// memProblemStore
type memProblemStore struct {
	mu        sync.Mutex
	problems  []*models.Problem
	exposures map[string]map[string]time.Time
}

func newMemProblemStore(problems ...*models.Problem) *memProblemStore {
	return &memProblemStore{problems: problems, exposures: map[string]map[string]time.Time{}}
}

func (s *memProblemStore) ListByRating(_ context.Context, minRating, maxRating int) ([]*models.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Problem
	for _, p := range s.problems {
		if p.Rating >= minRating && p.Rating <= maxRating {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memProblemStore) LastSeen(_ context.Context, userIDs []string, since time.Time) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]time.Time{}
	for _, uid := range userIDs {
		for pid, at := range s.exposures[uid] {
			if at.Before(since) {
				continue
			}
			if prev, ok := out[pid]; !ok || at.After(prev) {
				out[pid] = at
			}
		}
	}
	return out, nil
}

func (s *memProblemStore) RecordExposure(_ context.Context, userID string, problemIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exposures[userID] == nil {
		s.exposures[userID] = map[string]time.Time{}
	}
	for _, id := range problemIDs {
		s.exposures[userID][id] = at
	}
	return nil
}

func (s *memProblemStore) Upsert(_ context.Context, problem *models.Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.problems {
		if p.ID == problem.ID {
			s.problems[i] = problem
			return nil
		}
	}
	s.problems = append(s.problems, problem)
	return nil
}

func (s *memProblemStore) seen(userID, problemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.exposures[userID][problemID]
	return ok
}

// memSubmissionStore
type memSubmissionStore struct {
	mu   sync.Mutex
	seq  int
	subs []*models.Submission
}

func (s *memSubmissionStore) Create(_ context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sub.ID = fmt.Sprintf("sub-%d", s.seq)
	c := *sub
	s.subs = append(s.subs, &c)
	return nil
}

func (s *memSubmissionStore) FindByID(_ context.Context, id string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.ID == id {
			c := *sub
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memSubmissionStore) UpdateVerdict(_ context.Context, id string, verdict models.Verdict, judgedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.ID == id && sub.Verdict == models.VerdictPending {
			sub.Verdict = verdict
			sub.JudgedAt = &judgedAt
			return true, nil
		}
	}
	return false, nil
}

func (s *memSubmissionStore) ListByMatch(_ context.Context, matchID string) ([]*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Submission
	for _, sub := range s.subs {
		if sub.MatchID == matchID {
			c := *sub
			out = append(out, &c)
		}
	}
	return out, nil
}

// memUserStore
type memUserStore struct {
	mu    sync.Mutex
	seq   int
	users map[string]*models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*models.User{}}
}

// add 지정한 ID 로 사용자 추가
func (s *memUserStore) add(id string, plan models.Plan, role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{ID: id, Username: id, Email: id + "@example.com", Plan: plan, Role: role}
}

func (s *memUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	user.ID = fmt.Sprintf("user-%d", s.seq)
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *memUserStore) find(match func(*models.User) bool) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			c := *u
			return &c
		}
	}
	return nil
}

func (s *memUserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.ID == id }), nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Email == email }), nil
}

func (s *memUserStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Username == username }), nil
}

// recordingPublisher 발행된 메시지를 기록. drop 이면 기록하지 않는다
type published struct {
	Topic   string
	Kind    string
	Payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	drop   bool
}

func (p *recordingPublisher) Publish(topic, kind string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drop {
		return
	}
	p.events = append(p.events, published{Topic: topic, Kind: kind, Payload: payload})
}

func (p *recordingPublisher) filter(topic, kind string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if (topic == "" || e.Topic == topic) && (kind == "" || e.Kind == kind) {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// testClock 여러 서비스가 공유하는 가짜 시계
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testProblems() []*models.Problem {
	return []*models.Problem{
		{ID: "p-dp-1", Rating: 1200, Topics: []string{"dp"}},
		{ID: "p-dp-2", Rating: 1210, Topics: []string{"dp"}},
		{ID: "p-graph-1", Rating: 1250, Topics: []string{"graphs"}},
		{ID: "p-greedy-1", Rating: 1150, Topics: []string{"greedy"}},
		{ID: "p-math-1", Rating: 1300, Topics: []string{"math"}},
		{ID: "p-str-1", Rating: 1100, Topics: []string{"strings"}},
		{ID: "p-hard-1", Rating: 2400, Topics: []string{"geometry"}},
	}
}

// harness 서비스 전체를 인메모리 저장소로 조립
type harness struct {
	clock       *testClock
	matches     *memMatchStore
	ratings     *memRatingStore
	limits      *memLimitStore
	problems    *memProblemStore
	submissions *memSubmissionStore
	users       *memUserStore
	publisher   *recordingPublisher

	eligibility *EligibilityService
	selector    *ProblemSelector
	ratingSvc   *RatingService
	matchSvc    *MatchService
	matchmaking *MatchmakingService
}

func defaultMatchmakingConfig() MatchmakingConfig {
	return MatchmakingConfig{
		WindowMin:        100,
		WindowMax:        400,
		SettleMatches:    30,
		BaseWaitEstimate: 30 * time.Second,
	}
}

func newHarness(t *testing.T, cfg MatchmakingConfig) *harness {
	t.Helper()

	h := &harness{
		clock:       newTestClock(),
		matches:     newMemMatchStore(),
		ratings:     newMemRatingStore(),
		limits:      newMemLimitStore(),
		problems:    newMemProblemStore(testProblems()...),
		submissions: &memSubmissionStore{},
		users:       newMemUserStore(),
		publisher:   &recordingPublisher{},
	}
	log := zap.NewNop()

	h.eligibility = NewEligibilityService(h.users, h.limits, 5)
	h.eligibility.now = h.clock.Now

	h.selector = NewProblemSelector(h.problems, 300, 14*24*time.Hour)
	h.selector.now = h.clock.Now

	h.ratingSvc = NewRatingService(h.ratings, NewRatingEngine(), nil, 3, log)

	h.matchSvc = NewMatchService(h.matches, h.submissions, h.ratingSvc, h.publisher, PhaseClock{
		Duration:       40 * time.Minute,
		PressureWindow: 5 * time.Minute,
	})
	h.matchSvc.now = h.clock.Now

	h.matchmaking = NewMatchmakingService(h.matches, h.ratings, h.limits, h.selector, h.eligibility, h.matchSvc, h.publisher, cfg, log)
	h.matchmaking.now = h.clock.Now

	return h
}

// startMatch p1 이 만들고 p2 가 참가한 live 매치
func (h *harness) startMatch(t *testing.T, mode models.MatchMode, p1, p2 string) *models.Match {
	t.Helper()
	ctx := context.Background()

	first, err := h.matchmaking.RequestMatch(ctx, p1, models.MatchType1v1, mode)
	if err != nil {
		t.Fatalf("request match for %s: %v", p1, err)
	}
	second, err := h.matchmaking.RequestMatch(ctx, p2, models.MatchType1v1, mode)
	if err != nil {
		t.Fatalf("request match for %s: %v", p2, err)
	}
	if !second.Joined || second.MatchID != first.MatchID {
		t.Fatalf("expected %s to join %s, got %+v", p2, first.MatchID, second)
	}
	return second.Match
}
