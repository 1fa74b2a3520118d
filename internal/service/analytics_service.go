package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"coursehub_backend/internal/config"
	"coursehub_backend/internal/model"
	"coursehub_backend/internal/repository"
	"coursehub_backend/internal/util"
	"coursehub_backend/pkg/logger"
	"coursehub_backend/pkg/tracing"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AnalyticsService struct {
	DB            *gorm.DB
	AnalyticsRepo *repository.AnalyticsRepository
	QuizRepo      *repository.QuizRepository
	CourseRepo    *repository.CourseRepository
	// Redis 为 nil 时不使用缓存
	Redis *redis.Client
	Now   Clock

	mu          sync.RWMutex
	cfg         config.AnalyticsConfig
	concurrency int
}

func NewAnalyticsService(
	analyticsRepo *repository.AnalyticsRepository,
	quizRepo *repository.QuizRepository,
	courseRepo *repository.CourseRepository,
	rdb *redis.Client,
	cfg *config.Config,
	db *gorm.DB,
) *AnalyticsService {
	return &AnalyticsService{
		DB:            db,
		AnalyticsRepo: analyticsRepo,
		QuizRepo:      quizRepo,
		CourseRepo:    courseRepo,
		Redis:         rdb,
		cfg:           cfg.Analytics,
		concurrency:   cfg.Jobs.AnalyticsConcurrency,
	}
}

func (s *AnalyticsService) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg.Analytics
	s.concurrency = cfg.Jobs.AnalyticsConcurrency
	s.mu.Unlock()
}

func (s *AnalyticsService) settings() (config.AnalyticsConfig, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.concurrency
}

// Calculate 重新计算测验统计：总数覆盖全部答题，平均值只看已完成的
func (s *AnalyticsService) Calculate(ctx context.Context, quizID string) (*model.QuizAnalytics, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AnalyticsService.Calculate")
	defer span.End()

	var result *model.QuizAnalytics
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.AnalyticsRepo.WithTx(tx)

		if _, err := s.QuizRepo.WithTx(tx).FindByID(ctx, quizID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrQuizNotFound
			}
			return err
		}

		a := &model.QuizAnalytics{
			QuizID:         quizID,
			QuestionStats:  datatypes.NewJSONType(map[string]model.QuestionStat{}),
			LastCalculated: s.Now.now(),
		}
		prior, err := repo.FindByQuiz(ctx, quizID)
		switch {
		case err == nil:
			// 没有已完成的答题时保留上一次的平均值
			a.AverageScore = prior.AverageScore
			a.PassRate = prior.PassRate
			a.AverageCompletionTime = prior.AverageCompletionTime
			a.QuestionStats = prior.QuestionStats
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if a.TotalAttempts, err = repo.CountAttempts(ctx, quizID); err != nil {
			return err
		}
		agg, err := repo.AggregateCompleted(ctx, quizID)
		if err != nil {
			return err
		}
		a.CompletedAttempts = agg.CompletedCount

		if agg.CompletedCount > 0 {
			a.AverageScore = agg.AverageScore
			a.PassRate = float64(agg.PassedCount) / float64(agg.CompletedCount) * 100
			a.AverageCompletionTime = agg.TotalTime / agg.CompletedCount

			rows, err := repo.AggregateQuestions(ctx, quizID)
			if err != nil {
				return err
			}
			stats := make(map[string]model.QuestionStat, len(rows))
			for _, row := range rows {
				if row.TotalResponses == 0 {
					continue
				}
				stats[row.QuestionID] = model.QuestionStat{
					TotalResponses:     row.TotalResponses,
					CorrectResponses:   row.CorrectResponses,
					AccuracyPercentage: float64(row.CorrectResponses) / float64(row.TotalResponses) * 100,
					AverageTime:        row.AverageTime,
				}
			}
			a.QuestionStats = datatypes.NewJSONType(stats)
		}

		if err := repo.Upsert(ctx, a); err != nil {
			return err
		}
		stored, err := repo.FindByQuiz(ctx, quizID)
		if err != nil {
			return err
		}
		result = stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.writeCache(ctx, result)
	logger.Log.Debug("Quiz analytics calculated",
		zap.String("quiz_id", quizID),
		zap.Int64("total_attempts", result.TotalAttempts),
		zap.Int64("completed_attempts", result.CompletedAttempts),
	)
	return result, nil
}

// GetAnalytics 非强制刷新时优先读缓存和已存储的结果，缺失或过期才重新计算
func (s *AnalyticsService) GetAnalytics(ctx context.Context, quizID string, actor model.Actor, forceRefresh bool) (*model.QuizAnalytics, error) {
	quiz, err := s.QuizRepo.FindByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuizNotFound
		}
		return nil, err
	}
	if _, err := ensureInstructor(ctx, s.CourseRepo, quiz.CourseID, actor); err != nil {
		return nil, err
	}

	if !forceRefresh {
		cfg, _ := s.settings()
		now := s.Now.now()
		fresh := func(a *model.QuizAnalytics) bool {
			return now.Sub(a.LastCalculated) <= cfg.StaleAfterDuration()
		}

		if cached, ok := s.readCache(ctx, quizID); ok && fresh(cached) {
			return cached, nil
		}
		stored, err := s.AnalyticsRepo.FindByQuiz(ctx, quizID)
		switch {
		case err == nil && fresh(stored):
			s.writeCache(ctx, stored)
			return stored, nil
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}

	return s.Calculate(ctx, quizID)
}

func cacheKey(quizID string) string {
	return util.AnalyticsCacheKeyPrefix + quizID
}

func (s *AnalyticsService) readCache(ctx context.Context, quizID string) (*model.QuizAnalytics, bool) {
	if s.Redis == nil {
		return nil, false
	}
	raw, err := s.Redis.Get(ctx, cacheKey(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.Warn("Analytics cache read failed", zap.String("quiz_id", quizID), zap.Error(err))
		}
		return nil, false
	}
	var a model.QuizAnalytics
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false
	}
	return &a, true
}

func (s *AnalyticsService) writeCache(ctx context.Context, a *model.QuizAnalytics) {
	if s.Redis == nil || a == nil {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	cfg, _ := s.settings()
	if err := s.Redis.Set(ctx, cacheKey(a.QuizID), raw, cfg.CacheTTLDuration()).Err(); err != nil {
		logger.Log.Warn("Analytics cache write failed", zap.String("quiz_id", a.QuizID), zap.Error(err))
	}
}

// RefreshStale 定时任务：重算统计缺失或落后于最新交卷的测验
func (s *AnalyticsService) RefreshStale(ctx context.Context) (int, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AnalyticsService.RefreshStale")
	defer span.End()

	ids, err := s.AnalyticsRepo.StaleQuizIDs(ctx)
	if err != nil {
		return 0, err
	}

	_, concurrency := s.settings()
	if concurrency <= 0 {
		concurrency = 1
	}

	var refreshed int64
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, id := range ids {
		quizID := id
		g.Go(func() error {
			if _, err := s.Calculate(ctx, quizID); err != nil {
				logger.Log.Error("Scheduled analytics refresh failed", zap.String("quiz_id", quizID), zap.Error(err))
				return nil
			}
			atomic.AddInt64(&refreshed, 1)
			return nil
		})
	}
	_ = g.Wait()

	if len(ids) > 0 {
		logger.Log.Info("Scheduled analytics refresh finished",
			zap.Int("stale", len(ids)),
			zap.Int64("refreshed", refreshed),
		)
	}
	return int(refreshed), nil
}

// CourseQuizSummary 课程下每个测验的答题次数和平均分
func (s *AnalyticsService) CourseQuizSummary(ctx context.Context, courseID string, actor model.Actor) ([]model.QuizSummary, error) {
	if _, err := ensureInstructor(ctx, s.CourseRepo, courseID, actor); err != nil {
		return nil, err
	}
	return s.AnalyticsRepo.CourseSummary(ctx, courseID)
}
