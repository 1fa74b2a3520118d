package service

import (
	"testing"
	"time"

	"coursehub_backend/internal/model"
	"coursehub_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// takeQuiz 按 rights 依次作答前几道题，耗时 spend 后交卷
func (f *fixture) takeQuiz(t *testing.T, quiz *model.Quiz, studentID uint, rights []bool, spend time.Duration) *AttemptView {
	t.Helper()
	attempt, _, err := f.attemptSvc.StartAttempt(f.ctx, quiz.ID, studentID)
	require.NoError(t, err)
	for i, right := range rights {
		q := quiz.Questions[i]
		id := wrongAnswer(q)
		if right {
			id = correctAnswer(q)
		}
		_, err := f.attemptSvc.SubmitResponse(f.ctx, attempt.ID, q.ID, studentID, SubmitResponseRequest{
			SelectedAnswerIDs: []string{id},
			TimeSpentSeconds:  10 * (i + 1),
		})
		require.NoError(t, err)
	}
	f.clock.Advance(spend)
	view, err := f.attemptSvc.CompleteAttempt(f.ctx, attempt.ID, studentID)
	require.NoError(t, err)
	return view
}

func TestAnalyticsCalculate(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, 21, model.EnrollmentActive)
	f.enroll(t, 22, model.EnrollmentActive)
	quiz := f.createQuiz(t, func(r *QuizRequest) { r.PassingScore = intPtr(60) })

	f.takeQuiz(t, quiz, f.student.ID, []bool{true, true, false}, 2*time.Minute)
	f.takeQuiz(t, quiz, 21, []bool{true, false, false}, time.Minute)
	_, _, err := f.attemptSvc.StartAttempt(f.ctx, quiz.ID, 22)
	require.NoError(t, err)

	a, err := f.analyticsSvc.Calculate(f.ctx, quiz.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, a.TotalAttempts)
	assert.EqualValues(t, 2, a.CompletedAttempts)
	assert.InDelta(t, 50.0, a.AverageScore, 1e-6)
	assert.InDelta(t, 50.0, a.PassRate, 1e-9)
	assert.EqualValues(t, 90, a.AverageCompletionTime)
	assert.WithinDuration(t, f.clock.Now(), a.LastCalculated, time.Second)

	stats := a.QuestionStats.Data()
	require.Len(t, stats, 3)
	q1, q2, q3 := stats[quiz.Questions[0].ID], stats[quiz.Questions[1].ID], stats[quiz.Questions[2].ID]
	assert.EqualValues(t, 2, q1.TotalResponses)
	assert.InDelta(t, 100.0, q1.AccuracyPercentage, 1e-9)
	assert.InDelta(t, 10.0, q1.AverageTime, 1e-9)
	assert.InDelta(t, 50.0, q2.AccuracyPercentage, 1e-9)
	assert.EqualValues(t, 1, q2.CorrectResponses)
	assert.InDelta(t, 0.0, q3.AccuracyPercentage, 1e-9)

	// 重复计算得到同一行
	again, err := f.analyticsSvc.Calculate(f.ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	var rows int64
	require.NoError(t, f.db.Model(&model.QuizAnalytics{}).Where("quiz_id = ?", quiz.ID).Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
}

func TestAnalyticsWithoutCompletedAttempts(t *testing.T) {
	f := newFixture(t)
	quiz := f.createQuiz(t, nil)
	_, _, err := f.attemptSvc.StartAttempt(f.ctx, quiz.ID, f.student.ID)
	require.NoError(t, err)

	a, err := f.analyticsSvc.Calculate(f.ctx, quiz.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.TotalAttempts)
	assert.Zero(t, a.CompletedAttempts)
	assert.Zero(t, a.AverageScore)
	assert.Zero(t, a.PassRate)
	assert.Empty(t, a.QuestionStats.Data())

	_, err = f.analyticsSvc.Calculate(f.ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, util.ErrQuizNotFound)
}

func TestAnalyticsKeepsPriorAverages(t *testing.T) {
	f := newFixture(t)
	quiz := f.createQuiz(t, nil)
	prior := &model.QuizAnalytics{
		QuizID:                quiz.ID,
		CompletedAttempts:     4,
		AverageScore:          80,
		PassRate:              75,
		AverageCompletionTime: 300,
		QuestionStats:         datatypes.NewJSONType(map[string]model.QuestionStat{}),
		LastCalculated:        f.clock.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, f.stats.Upsert(f.ctx, prior))

	a, err := f.analyticsSvc.Calculate(f.ctx, quiz.ID)
	require.NoError(t, err)
	assert.Zero(t, a.CompletedAttempts)
	assert.InDelta(t, 80.0, a.AverageScore, 1e-9)
	assert.InDelta(t, 75.0, a.PassRate, 1e-9)
	assert.EqualValues(t, 300, a.AverageCompletionTime)
}

func TestGetAnalyticsStaleness(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, 21, model.EnrollmentActive)
	quiz := f.createQuiz(t, nil)
	f.takeQuiz(t, quiz, f.student.ID, []bool{true, true, true}, time.Minute)

	first, err := f.analyticsSvc.GetAnalytics(f.ctx, quiz.ID, f.teacher, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.CompletedAttempts)

	f.takeQuiz(t, quiz, 21, []bool{false}, time.Minute)

	// 未过期时直接返回已存储的结果
	cached, err := f.analyticsSvc.GetAnalytics(f.ctx, quiz.ID, f.teacher, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cached.CompletedAttempts)

	forced, err := f.analyticsSvc.GetAnalytics(f.ctx, quiz.ID, f.teacher, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, forced.CompletedAttempts)

	require.NoError(t, f.db.Exec("UPDATE quiz_analytics SET completed_attempts = 0 WHERE quiz_id = ?", quiz.ID).Error)
	f.clock.Advance(25 * time.Hour)
	stale, err := f.analyticsSvc.GetAnalytics(f.ctx, quiz.ID, f.teacher, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stale.CompletedAttempts)

	_, err = f.analyticsSvc.GetAnalytics(f.ctx, quiz.ID, model.Actor{ID: 11, Role: model.Teacher}, false)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	_, err = f.analyticsSvc.GetAnalytics(f.ctx, "00000000-0000-0000-0000-000000000000", f.teacher, false)
	assert.ErrorIs(t, err, util.ErrQuizNotFound)
}

func TestRefreshStale(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, 21, model.EnrollmentActive)
	quizA := f.createQuiz(t, func(r *QuizRequest) { r.Title = "A" })
	quizB := f.createQuiz(t, func(r *QuizRequest) { r.Title = "B" })
	idle := f.createQuiz(t, func(r *QuizRequest) { r.Title = "idle" })

	f.takeQuiz(t, quizA, f.student.ID, []bool{true}, time.Minute)
	f.takeQuiz(t, quizB, f.student.ID, []bool{false}, time.Minute)

	n, err := f.analyticsSvc.RefreshStale(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.analyticsSvc.RefreshStale(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Minute)
	f.takeQuiz(t, quizA, 21, []bool{true}, time.Minute)
	n, err = f.analyticsSvc.RefreshStale(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, err := f.stats.FindByQuiz(f.ctx, quizA.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.CompletedAttempts)

	_, err = f.stats.FindByQuiz(f.ctx, idle.ID)
	assert.Error(t, err)
}

func TestCourseQuizSummary(t *testing.T) {
	f := newFixture(t)
	quizA := f.createQuiz(t, func(r *QuizRequest) { r.Title = "A" })
	f.createQuiz(t, func(r *QuizRequest) { r.Title = "B" })
	f.takeQuiz(t, quizA, f.student.ID, []bool{true, true, true}, time.Minute)

	summary, err := f.analyticsSvc.CourseQuizSummary(f.ctx, f.course.ID, f.teacher)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "A", summary[0].Title)
	assert.EqualValues(t, 1, summary[0].AttemptCount)
	assert.InDelta(t, 100.0, summary[0].AverageScore, 1e-9)
	assert.Equal(t, "B", summary[1].Title)
	assert.Zero(t, summary[1].AttemptCount)

	_, err = f.analyticsSvc.CourseQuizSummary(f.ctx, f.course.ID, model.Actor{ID: 11, Role: model.Teacher})
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
}
