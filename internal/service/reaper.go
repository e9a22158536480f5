package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeduel/duel-backend/internal/models"
)

const (
	reaperLockKey    = "duel:lock:reaper"
	reaperBatchLimit = 100
)

// SweepLock 여러 인스턴스 중 하나만 sweep 하도록 하는 분산 락 (distributed.RedisLockManager)
type SweepLock interface {
	WithLock(ctx context.Context, key, owner string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

// SweepReport 한 번의 sweep 결과
type SweepReport struct {
	StaleWaiting int
	ExpiredLive  int
	Settled      int
}

// Reaper 주기적으로 오래된 waiting 매치 삭제, 시간 초과 live 매치 종료, 미뤄진 레이팅 정산 재시도
type Reaper struct {
	matches     MatchStore
	matchSvc    *MatchService
	matchmaking *MatchmakingService
	ratings     *RatingService
	lock        SweepLock
	owner       string
	waitingTTL  time.Duration
	interval    time.Duration
	logger      *zap.Logger
	now         func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewReaper lock 이 nil 이면 단일 인스턴스로 보고 락 없이 실행한다
func NewReaper(
	matches MatchStore,
	matchSvc *MatchService,
	matchmaking *MatchmakingService,
	ratings *RatingService,
	lock SweepLock,
	owner string,
	waitingTTL time.Duration,
	interval time.Duration,
	logger *zap.Logger,
) *Reaper {
	return &Reaper{
		matches:     matches,
		matchSvc:    matchSvc,
		matchmaking: matchmaking,
		ratings:     ratings,
		lock:        lock,
		owner:       owner,
		waitingTTL:  waitingTTL,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

// Start sweep 루프 시작
func (r *Reaper) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("Starting Reaper",
		zap.Duration("interval", r.interval),
		zap.Duration("waiting_ttl", r.waitingTTL))

	r.wg.Add(1)
	go r.run()
}

// Stop sweep 루프 중지
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.logger.Info("Stopping Reaper")
	close(r.stopChan)
	r.wg.Wait()
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("Sweep failed", zap.Error(err))
			}
			cancel()
		case <-r.stopChan:
			return
		}
	}
}

// Sweep 한 번 실행. 다른 인스턴스가 락을 잡고 있으면 아무것도 하지 않는다
func (r *Reaper) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	if r.lock == nil {
		return report, r.sweep(ctx, report)
	}

	ran, err := r.lock.WithLock(ctx, reaperLockKey, r.owner, r.interval, func(ctx context.Context) error {
		return r.sweep(ctx, report)
	})
	if err != nil {
		return report, err
	}
	if !ran {
		r.logger.Debug("Sweep skipped, lock held by another instance")
	}
	return report, nil
}

func (r *Reaper) sweep(ctx context.Context, report *SweepReport) error {
	now := r.now()

	stale, err := r.matches.DeleteStaleWaiting(ctx, now.Add(-r.waitingTTL))
	if err != nil {
		return err
	}
	report.StaleWaiting = len(stale)

	type queueKey struct {
		matchType models.MatchType
		mode      models.MatchMode
	}
	touched := map[queueKey]bool{}
	for _, m := range stale {
		touched[queueKey{m.MatchType, m.Mode}] = true
	}
	for q := range touched {
		r.matchmaking.PublishQueueSize(ctx, q.matchType, q.mode)
	}

	expired, err := r.matches.ListExpiredLive(ctx, now.Add(-r.matchSvc.clock.Duration), reaperBatchLimit)
	if err != nil {
		return err
	}
	for _, m := range expired {
		finished, err := r.matchSvc.FinishExpired(ctx, m)
		if err != nil {
			r.logger.Error("Failed to finish expired match", zap.String("match_id", m.ID), zap.Error(err))
			continue
		}
		if finished {
			report.ExpiredLive++
		}
	}

	if r.ratings != nil {
		settled, err := r.ratings.RetryDeferred(ctx)
		if err != nil {
			r.logger.Warn("Deferred rating settlement failed", zap.Error(err))
		}
		report.Settled = settled
	}

	if report.StaleWaiting+report.ExpiredLive+report.Settled > 0 {
		r.logger.Info("Sweep completed",
			zap.Int("stale_waiting", report.StaleWaiting),
			zap.Int("expired_live", report.ExpiredLive),
			zap.Int("settled", report.Settled))
	}
	return nil
}
