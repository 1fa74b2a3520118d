package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"coursehub_backend/internal/config"
	"coursehub_backend/internal/model"
	"coursehub_backend/internal/repository"
	"coursehub_backend/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx   context.Context
	db    *gorm.DB
	cfg   *config.Config
	clock *testClock

	courses  *repository.CourseRepository
	quizzes  *repository.QuizRepository
	attempts *repository.AttemptRepository
	stats    *repository.AnalyticsRepository
	earnings *repository.EarningsRepository

	quizSvc      *QuizService
	attemptSvc   *AttemptService
	analyticsSvc *AnalyticsService
	earningsSvc  *EarningsService

	course  *model.Course
	teacher model.Actor
	student model.Actor
	admin   model.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	cfg := config.Default()

	f := &fixture{
		ctx:     context.Background(),
		db:      db,
		cfg:     cfg,
		clock:   &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		teacher: model.Actor{ID: 10, Role: model.Teacher},
		student: model.Actor{ID: 20, Role: model.Student},
		admin:   model.Actor{ID: 1, Role: model.Admin},
	}

	f.courses = repository.NewCourseRepository(db)
	f.quizzes = repository.NewQuizRepository(db)
	f.attempts = repository.NewAttemptRepository(db)
	f.stats = repository.NewAnalyticsRepository(db)
	f.earnings = repository.NewEarningsRepository(db)

	f.quizSvc = NewQuizService(f.quizzes, f.courses, f.attempts, db)
	f.quizSvc.Now = f.clock.Now
	f.analyticsSvc = NewAnalyticsService(f.stats, f.quizzes, f.courses, nil, cfg, db)
	f.analyticsSvc.Now = f.clock.Now
	f.attemptSvc = NewAttemptService(f.quizzes, f.attempts, f.courses, f.analyticsSvc, nil, cfg.Quiz, db)
	f.attemptSvc.Now = f.clock.Now
	f.earningsSvc = NewEarningsService(f.earnings, f.courses, nil, cfg.Ledger, db)
	f.earningsSvc.Now = f.clock.Now

	f.course = &model.Course{Title: "Go 并发编程", InstructorID: f.teacher.ID, PriceCents: 9999, IsPublished: true}
	require.NoError(t, db.Create(f.course).Error)
	f.enroll(t, f.student.ID, model.EnrollmentActive)
	return f
}

func (f *fixture) enroll(t *testing.T, studentID uint, status model.EnrollmentStatus) {
	t.Helper()
	require.NoError(t, f.courses.UpsertEnrollment(f.ctx, studentID, f.course.ID, status, "", f.clock.Now()))
}

func mcQuestion(text string, points int) QuestionRequest {
	return QuestionRequest{
		Type:         model.MultipleChoice,
		QuestionText: text,
		Points:       points,
		Answers: []AnswerRequest{
			{AnswerText: "right", IsCorrect: true},
			{AnswerText: "wrong"},
			{AnswerText: "also wrong"},
		},
	}
}

func essayQuestion(text string, points int) QuestionRequest {
	return QuestionRequest{Type: model.Essay, QuestionText: text, Points: points}
}

// createQuiz 默认三道 1 分的单选题
func (f *fixture) createQuiz(t *testing.T, mutate func(*QuizRequest)) *model.Quiz {
	t.Helper()
	req := QuizRequest{
		CourseID: f.course.ID,
		Title:    "Channels",
		Questions: []QuestionRequest{
			mcQuestion("q1", 1),
			mcQuestion("q2", 1),
			mcQuestion("q3", 1),
		},
	}
	if mutate != nil {
		mutate(&req)
	}
	quiz, err := f.quizSvc.CreateQuiz(f.ctx, f.teacher, req)
	require.NoError(t, err)
	return quiz
}

func correctAnswer(q model.Question) string {
	for _, a := range q.Answers {
		if a.IsCorrect {
			return a.ID
		}
	}
	return ""
}

func wrongAnswer(q model.Question) string {
	for _, a := range q.Answers {
		if !a.IsCorrect {
			return a.ID
		}
	}
	return ""
}

func (f *fixture) answer(t *testing.T, attemptID string, q model.Question, right bool) *ResponseView {
	t.Helper()
	id := wrongAnswer(q)
	if right {
		id = correctAnswer(q)
	}
	view, err := f.attemptSvc.SubmitResponse(f.ctx, attemptID, q.ID, f.student.ID, SubmitResponseRequest{
		SelectedAnswerIDs: []string{id},
		TimeSpentSeconds:  15,
	})
	require.NoError(t, err)
	return view
}
