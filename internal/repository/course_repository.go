package repository

import (
	"context"
	"time"

	"coursehub_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CourseRepository 课程和选课表由课程服务维护，这里只读，账本记录销售时例外
type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

func (r *CourseRepository) WithTx(tx *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: tx}
}

func (r *CourseRepository) FindByID(ctx context.Context, id string) (*model.Course, error) {
	var c model.Course
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CourseRepository) ListByInstructor(ctx context.Context, instructorID uint) ([]model.Course, error) {
	var courses []model.Course
	err := r.DB.WithContext(ctx).Where("instructor_id = ?", instructorID).Order("created_at").Find(&courses).Error
	return courses, err
}

func (r *CourseRepository) FindEnrollment(ctx context.Context, studentID uint, courseID string) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.DB.WithContext(ctx).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindActiveEnrollment 只有 active 状态的选课可以参加测验
func (r *CourseRepository) FindActiveEnrollment(ctx context.Context, studentID uint, courseID string) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.DB.WithContext(ctx).
		Where("student_id = ? AND course_id = ? AND status = ?", studentID, courseID, model.EnrollmentActive).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *CourseRepository) ActiveCourseIDs(ctx context.Context, studentID uint) ([]string, error) {
	var ids []string
	err := r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Where("student_id = ? AND status = ?", studentID, model.EnrollmentActive).
		Pluck("course_id", &ids).Error
	return ids, err
}

// UpsertEnrollment 按 (student_id, course_id) 写入或更新状态
func (r *CourseRepository) UpsertEnrollment(ctx context.Context, studentID uint, courseID string, status model.EnrollmentStatus, paymentRef string, now time.Time) error {
	e := model.Enrollment{
		StudentID:  studentID,
		CourseID:   courseID,
		Status:     status,
		PaymentRef: paymentRef,
		EnrolledAt: now,
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "payment_ref", "updated_at"}),
	}).Create(&e).Error
}

func (r *CourseRepository) UpdateEnrollmentStatus(ctx context.Context, studentID uint, courseID string, status model.EnrollmentStatus) error {
	return r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Update("status", status).Error
}
