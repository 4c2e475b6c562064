package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/internal/repository"
	"github.com/noah-isme/sma-fee-ledger/pkg/cache"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/events"
)

const rolloverLockKey = "rollover"

type rolloverStudentStore interface {
	ListActive(ctx context.Context) ([]models.Student, error)
	Graduate(ctx context.Context, id string) error
	ResetForNewYear(ctx context.Context, id string, next models.ClassLevel, totalFee int64) error
}

type rolloverExtraFeeStore interface {
	DeleteAll(ctx context.Context) (int64, error)
	CountAll(ctx context.Context) (int, error)
}

// RolloverConfig tunes the academic year batch.
type RolloverConfig struct {
	Concurrency int
	LockTTL     time.Duration
}

// RolloverService runs the yearly promotion and ledger reset.
type RolloverService struct {
	students  rolloverStudentStore
	extraFees rolloverExtraFeeStore
	locker    cache.Locker
	collab    LedgerCollaborators
	logger    *zap.Logger
	cfg       RolloverConfig
}

// NewRolloverService constructs a RolloverService. A nil locker falls back to an in-process lock.
func NewRolloverService(students rolloverStudentStore, extraFees rolloverExtraFeeStore, locker cache.Locker, collab LedgerCollaborators, logger *zap.Logger, cfg RolloverConfig) *RolloverService {
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &RolloverService{
		students:  students,
		extraFees: extraFees,
		locker:    locker,
		collab:    collab.withDefaults(),
		logger:    logger,
		cfg:       cfg,
	}
}

// Stats previews the next rollover.
func (s *RolloverService) Stats(ctx context.Context) (*models.RolloverStats, error) {
	students, err := s.students.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active students")
	}
	campaigns, err := s.extraFees.CountAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count extra fees")
	}

	stats := &models.RolloverStats{
		ActiveStudents:   len(students),
		ClassCounts:      make(map[models.ClassLevel]int),
		ExtraFeeCount:    campaigns,
		RequiredFeeGrade: requiredGrades(students),
	}
	for _, st := range students {
		stats.ClassCounts[st.Class]++
		if st.Class.IsTerminal() {
			stats.Graduating++
		} else {
			stats.Promoting++
		}
	}
	return stats, nil
}

// requiredGrades lists, in sequence order, every grade some active student is promoted into.
func requiredGrades(students []models.Student) []models.ClassLevel {
	seen := make(map[models.ClassLevel]struct{})
	grades := make([]models.ClassLevel, 0)
	for _, st := range students {
		next, ok := st.Class.Next()
		if !ok {
			continue
		}
		if _, dup := seen[next]; dup {
			continue
		}
		seen[next] = struct{}{}
		grades = append(grades, next)
	}
	sort.Slice(grades, func(i, j int) bool { return grades[i].Index() < grades[j].Index() })
	return grades
}

// Start performs the rollover: purge every campaign, graduate the terminal grade, promote
// and reset everyone else. The batch is not transactional; students already processed
// stay processed when a later one fails, and the returned error says how many that was.
func (s *RolloverService) Start(ctx context.Context, actor *models.Principal, req models.RolloverRequest) (*models.RolloverResult, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	fees, err := parseClassFees(req.ClassFees)
	if err != nil {
		return nil, err
	}

	students, err := s.students.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active students")
	}
	var missing []string
	for _, grade := range requiredGrades(students) {
		if _, ok := fees[grade]; !ok {
			missing = append(missing, grade.String())
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrMissingFees, fmt.Sprintf("class fee missing for %v", missing)),
			map[string]interface{}{"missing_grades": missing},
		)
	}

	release, err := s.locker.Acquire(ctx, rolloverLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, appErrors.ErrRolloverInProgress
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire rollover lock")
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn("failed to release rollover lock", zap.Error(err))
		}
	}()

	// once started the batch runs to completion or first failure regardless of the caller
	batchCtx := context.WithoutCancel(ctx)
	started := time.Now()
	s.logger.Info("academic year rollover started", zap.String("admin_id", actor.ID), zap.Int("students", len(students)))

	result := &models.RolloverResult{}
	result.ExtraFeesDeleted, err = s.extraFees.DeleteAll(batchCtx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge extra fees")
	}

	promoted, graduated, runErr := s.processStudents(batchCtx, students, fees)
	result.Promoted = int(promoted)
	result.Graduated = int(graduated)
	result.Processed = result.Promoted + result.Graduated

	details := map[string]interface{}{
		"promoted":           result.Promoted,
		"graduated":          result.Graduated,
		"extra_fees_deleted": result.ExtraFeesDeleted,
	}
	if runErr != nil {
		details["failed"] = true
		details["error"] = runErr.Error()
		s.collab.Audit.Record(batchCtx, actor, models.AuditActionStartedNewYear, "", details)
		s.collab.Metrics.RecordRollover(result.Promoted, result.Graduated, 1, time.Since(started))
		s.logger.Error("academic year rollover aborted",
			zap.Int("processed", result.Processed),
			zap.Int("total", len(students)),
			zap.Error(runErr))

		failure := appErrors.FromError(runErr)
		if failure.Code == appErrors.ErrInternal.Code {
			failure = appErrors.Wrap(runErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
				fmt.Sprintf("rollover stopped after %d of %d students", result.Processed, len(students)))
		}
		return result, appErrors.WithDetails(failure, map[string]interface{}{
			"processed": result.Processed,
			"total":     len(students),
		})
	}

	s.collab.Audit.Record(batchCtx, actor, models.AuditActionStartedNewYear, "", details)
	s.collab.Metrics.RecordRollover(result.Promoted, result.Graduated, 0, time.Since(started))
	ev := events.New(events.TypeRolloverCompleted, "", actor.ID)
	ev.Data = details
	publishEvent(batchCtx, s.collab.Events, s.logger, ev)
	s.logger.Info("academic year rollover finished",
		zap.Int("promoted", result.Promoted),
		zap.Int("graduated", result.Graduated),
		zap.Int64("extra_fees_deleted", result.ExtraFeesDeleted),
		zap.Duration("duration", time.Since(started)))
	return result, nil
}

// processStudents walks grades from the terminal one downwards so a promoted student never
// lands in a grade whose previous occupants have not moved on yet. Students within a grade
// run concurrently up to the configured limit.
func (s *RolloverService) processStudents(ctx context.Context, students []models.Student, fees map[models.ClassLevel]int64) (promoted, graduated int64, err error) {
	groups := make(map[models.ClassLevel][]models.Student)
	for _, st := range students {
		groups[st.Class] = append(groups[st.Class], st)
	}
	levels := models.AllClassLevels()
	for i := len(levels) - 1; i >= 0; i-- {
		group := groups[levels[i]]
		if len(group) == 0 {
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, st := range group {
			st := st // per-iteration copy (go directive lowered to 1.21 for the local toolchain)
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				graduatedOne, err := s.processStudent(gctx, st, fees)
				if err != nil {
					return err
				}
				if graduatedOne {
					atomic.AddInt64(&graduated, 1)
				} else {
					atomic.AddInt64(&promoted, 1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return atomic.LoadInt64(&promoted), atomic.LoadInt64(&graduated), err
		}
	}
	return promoted, graduated, nil
}

func (s *RolloverService) processStudent(ctx context.Context, st models.Student, fees map[models.ClassLevel]int64) (bool, error) {
	next, ok := st.Class.Next()
	if !ok {
		if err := s.students.Graduate(ctx, st.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("graduate %s: %w", st.Name, err)
		}
		return true, nil
	}
	err := s.students.ResetForNewYear(ctx, st.ID, next, fees[next])
	switch {
	case err == nil, errors.Is(err, sql.ErrNoRows):
		return false, nil
	case errors.Is(err, repository.ErrDuplicate):
		return false, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("cannot promote %s to %s: an active student with the same name and phone is already there", st.Name, next))
	default:
		return false, fmt.Errorf("promote %s: %w", st.Name, err)
	}
}

func parseClassFees(raw map[string]int64) (map[models.ClassLevel]int64, error) {
	fees := make(map[models.ClassLevel]int64, len(raw))
	for key, amount := range raw {
		class, ok := models.ParseClassLevel(key)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown grade %q in class_fees", key))
		}
		if amount <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("fee for %s must be greater than zero", class))
		}
		fees[class] = amount
	}
	return fees, nil
}
