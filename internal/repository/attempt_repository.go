package repository

import (
	"context"

	"coursehub_backend/internal/model"

	"gorm.io/gorm"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) WithTx(tx *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: tx}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *model.Attempt) error {
	return r.DB.WithContext(ctx).Create(attempt).Error
}

func (r *AttemptRepository) Update(ctx context.Context, attempt *model.Attempt) error {
	return r.DB.WithContext(ctx).Save(attempt).Error
}

func (r *AttemptRepository) FindByID(ctx context.Context, id string) (*model.Attempt, error) {
	var a model.Attempt
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindInProgress 同一学生同一测验最多只有一条进行中的记录
func (r *AttemptRepository) FindInProgress(ctx context.Context, quizID string, studentID uint) (*model.Attempt, error) {
	var a model.Attempt
	err := r.DB.WithContext(ctx).
		Where("quiz_id = ? AND student_id = ? AND status = ?", quizID, studentID, model.AttemptInProgress).
		Order("attempt_number DESC").
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) CountByQuizAndStudent(ctx context.Context, quizID string, studentID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("quiz_id = ? AND student_id = ?", quizID, studentID).
		Count(&count).Error
	return count, err
}

func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID uint, quizID string) ([]model.Attempt, error) {
	var attempts []model.Attempt
	query := r.DB.WithContext(ctx).Where("student_id = ?", studentID)
	if quizID != "" {
		query = query.Where("quiz_id = ?", quizID)
	}
	err := query.Order("created_at DESC").Find(&attempts).Error
	return attempts, err
}

type AttemptFilter struct {
	Status    model.AttemptStatus
	StudentID uint
}

func (r *AttemptRepository) ListByQuiz(ctx context.Context, quizID string, f AttemptFilter, page, limit int) ([]model.Attempt, int64, error) {
	var attempts []model.Attempt
	var total int64

	query := r.DB.WithContext(ctx).Model(&model.Attempt{}).Where("quiz_id = ?", quizID)
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.StudentID != 0 {
		query = query.Where("student_id = ?", f.StudentID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&attempts).Error
	return attempts, total, err
}

func (r *AttemptRepository) FindResponse(ctx context.Context, attemptID, questionID string) (*model.Response, error) {
	var resp model.Response
	err := r.DB.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&resp).Error
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *AttemptRepository) FindResponseByID(ctx context.Context, id string) (*model.Response, error) {
	var resp model.Response
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&resp).Error; err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveResponse 新建或覆盖 (attempt_id, question_id) 的作答
func (r *AttemptRepository) SaveResponse(ctx context.Context, resp *model.Response) error {
	if resp.ID == "" {
		return r.DB.WithContext(ctx).Create(resp).Error
	}
	return r.DB.WithContext(ctx).Save(resp).Error
}

func (r *AttemptRepository) ListResponses(ctx context.Context, attemptID string) ([]model.Response, error) {
	var responses []model.Response
	err := r.DB.WithContext(ctx).Where("attempt_id = ?", attemptID).Order("created_at").Find(&responses).Error
	return responses, err
}
