package repository

import (
	"context"

	"coursehub_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AnalyticsRepository struct {
	DB *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{DB: db}
}

func (r *AnalyticsRepository) WithTx(tx *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{DB: tx}
}

func (r *AnalyticsRepository) FindByQuiz(ctx context.Context, quizID string) (*model.QuizAnalytics, error) {
	var a model.QuizAnalytics
	if err := r.DB.WithContext(ctx).Where("quiz_id = ?", quizID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert 以 quiz_id 为冲突键写入统计结果
func (r *AnalyticsRepository) Upsert(ctx context.Context, a *model.QuizAnalytics) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "quiz_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_attempts",
			"completed_attempts",
			"average_score",
			"pass_rate",
			"average_completion_time",
			"question_stats",
			"last_calculated",
			"updated_at",
		}),
	}).Create(a).Error
}

// CompletedAggregate 已完成答题的汇总
type CompletedAggregate struct {
	CompletedCount int64
	AverageScore   float64
	PassedCount    int64
	TotalTime      int64
}

func (r *AnalyticsRepository) CountAttempts(ctx context.Context, quizID string) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Attempt{}).Where("quiz_id = ?", quizID).Count(&count).Error
	return count, err
}

func (r *AnalyticsRepository) AggregateCompleted(ctx context.Context, quizID string) (CompletedAggregate, error) {
	var agg CompletedAggregate
	err := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Select(`COUNT(*) AS completed_count,
			COALESCE(AVG(score_percentage), 0) AS average_score,
			COALESCE(SUM(CASE WHEN passed THEN 1 ELSE 0 END), 0) AS passed_count,
			COALESCE(SUM(time_spent_seconds), 0) AS total_time`).
		Where("quiz_id = ? AND status = ?", quizID, model.AttemptCompleted).
		Scan(&agg).Error
	return agg, err
}

type QuestionAggregate struct {
	QuestionID       string
	TotalResponses   int64
	CorrectResponses int64
	AverageTime      float64
}

// AggregateQuestions 只统计已完成答题中的作答
func (r *AnalyticsRepository) AggregateQuestions(ctx context.Context, quizID string) ([]QuestionAggregate, error) {
	var rows []QuestionAggregate
	err := r.DB.WithContext(ctx).
		Table("question_responses AS r").
		Select(`r.question_id AS question_id,
			COUNT(*) AS total_responses,
			COALESCE(SUM(CASE WHEN r.is_correct THEN 1 ELSE 0 END), 0) AS correct_responses,
			COALESCE(AVG(r.time_spent_seconds), 0) AS average_time`).
		Joins("JOIN quiz_attempts AS a ON a.id = r.attempt_id").
		Joins("JOIN questions AS q ON q.id = r.question_id AND q.quiz_id = a.quiz_id").
		Where("a.quiz_id = ? AND a.status = ?", quizID, model.AttemptCompleted).
		Where("r.deleted_at IS NULL AND a.deleted_at IS NULL AND q.deleted_at IS NULL").
		Group("r.question_id").
		Scan(&rows).Error
	return rows, err
}

// StaleQuizIDs 统计缺失或早于最近一次交卷的测验
func (r *AnalyticsRepository) StaleQuizIDs(ctx context.Context) ([]string, error) {
	var rows []struct {
		QuizID string
	}
	err := r.DB.WithContext(ctx).
		Table("quiz_attempts AS a").
		Select("a.quiz_id AS quiz_id").
		Joins("LEFT JOIN quiz_analytics AS qa ON qa.quiz_id = a.quiz_id AND qa.deleted_at IS NULL").
		Where("a.status = ? AND a.deleted_at IS NULL", model.AttemptCompleted).
		Group("a.quiz_id, qa.last_calculated").
		Having("qa.last_calculated IS NULL OR MAX(a.completed_at) > qa.last_calculated").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.QuizID)
	}
	return ids, nil
}

func (r *AnalyticsRepository) CourseSummary(ctx context.Context, courseID string) ([]model.QuizSummary, error) {
	var rows []model.QuizSummary
	err := r.DB.WithContext(ctx).
		Table("quizzes AS q").
		Select(`q.id AS quiz_id, q.title AS title,
			COUNT(a.id) AS attempt_count,
			COALESCE(AVG(CASE WHEN a.status = ? THEN a.score_percentage END), 0) AS average_score`, model.AttemptCompleted).
		Joins("LEFT JOIN quiz_attempts AS a ON a.quiz_id = q.id AND a.deleted_at IS NULL").
		Where("q.course_id = ? AND q.deleted_at IS NULL", courseID).
		Group("q.id, q.title").
		Order("q.title").
		Scan(&rows).Error
	return rows, err
}
