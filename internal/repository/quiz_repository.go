package repository

import (
	"context"
	"database/sql"

	"coursehub_backend/internal/model"

	"gorm.io/gorm"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

func (r *QuizRepository) WithTx(tx *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: tx}
}

func (r *QuizRepository) Create(ctx context.Context, quiz *model.Quiz) error {
	return r.DB.WithContext(ctx).Omit("Questions").Create(quiz).Error
}

func (r *QuizRepository) Update(ctx context.Context, quiz *model.Quiz) error {
	return r.DB.WithContext(ctx).Omit("Questions").Save(quiz).Error
}

// Delete 软删除测验，题目保留以便历史答题记录可以回看
func (r *QuizRepository) Delete(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Where("id = ?", id).Delete(&model.Quiz{}).Error
}

func (r *QuizRepository) FindByID(ctx context.Context, id string) (*model.Quiz, error) {
	var q model.Quiz
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// FindWithQuestions 按 order 预加载题目和答案
func (r *QuizRepository) FindWithQuestions(ctx context.Context, id string) (*model.Quiz, error) {
	var q model.Quiz
	err := r.DB.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order")
		}).
		Preload("Questions.Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order")
		}).
		Where("id = ?", id).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QuizRepository) ListByCourses(ctx context.Context, courseIDs []string, activeOnly bool, page, limit int) ([]model.Quiz, int64, error) {
	var quizzes []model.Quiz
	var total int64
	if len(courseIDs) == 0 {
		return quizzes, 0, nil
	}

	query := r.DB.WithContext(ctx).Model(&model.Quiz{}).Where("course_id IN ?", courseIDs)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&quizzes).Error
	return quizzes, total, err
}

func (r *QuizRepository) ListIDsByCourse(ctx context.Context, courseID string) ([]model.Quiz, error) {
	var quizzes []model.Quiz
	err := r.DB.WithContext(ctx).Select("id", "title").Where("course_id = ?", courseID).Order("created_at").Find(&quizzes).Error
	return quizzes, err
}

func (r *QuizRepository) FindQuestion(ctx context.Context, id string) (*model.Question, error) {
	var q model.Question
	err := r.DB.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order")
		}).
		Where("id = ?", id).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QuizRepository) FindQuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	var questions []model.Question
	if len(ids) == 0 {
		return questions, nil
	}
	err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error
	return questions, err
}

func (r *QuizRepository) MaxQuestionOrder(ctx context.Context, quizID string) (int, error) {
	var max sql.NullInt64
	err := r.DB.WithContext(ctx).Model(&model.Question{}).
		Where("quiz_id = ?", quizID).
		Select("MAX(sort_order)").
		Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

func (r *QuizRepository) CreateQuestion(ctx context.Context, q *model.Question) error {
	return r.DB.WithContext(ctx).Omit("Answers").Create(q).Error
}

func (r *QuizRepository) UpdateQuestion(ctx context.Context, q *model.Question) error {
	return r.DB.WithContext(ctx).Omit("Answers").Save(q).Error
}

// ReplaceAnswers 整体替换题目的答案选项
func (r *QuizRepository) ReplaceAnswers(ctx context.Context, questionID string, answers []model.Answer) error {
	db := r.DB.WithContext(ctx)
	if err := db.Unscoped().Where("question_id = ?", questionID).Delete(&model.Answer{}).Error; err != nil {
		return err
	}
	if len(answers) == 0 {
		return nil
	}
	for i := range answers {
		answers[i].QuestionID = questionID
	}
	return db.Create(&answers).Error
}

// DeleteQuestion 物理删除题目及其答案、作答，保证 order 可以复用
func (r *QuizRepository) DeleteQuestion(ctx context.Context, id string) error {
	// 每条语句使用新的 Session，避免条件在链式调用间累积
	db := r.DB.WithContext(ctx).Unscoped().Session(&gorm.Session{})
	if err := db.Where("question_id = ?", id).Delete(&model.Response{}).Error; err != nil {
		return err
	}
	if err := db.Where("question_id = ?", id).Delete(&model.Answer{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&model.Question{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecalculateTotalPoints 以题目分值之和回写 total_points
func (r *QuizRepository) RecalculateTotalPoints(ctx context.Context, quizID string) (int, error) {
	var total int64
	db := r.DB.WithContext(ctx)
	err := db.Model(&model.Question{}).
		Where("quiz_id = ?", quizID).
		Select("COALESCE(SUM(points), 0)").
		Row().Scan(&total)
	if err != nil {
		return 0, err
	}
	err = db.Model(&model.Quiz{}).Where("id = ?", quizID).Update("total_points", total).Error
	return int(total), err
}
