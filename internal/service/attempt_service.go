package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"coursehub_backend/internal/config"
	"coursehub_backend/internal/model"
	"coursehub_backend/internal/repository"
	"coursehub_backend/internal/util"
	"coursehub_backend/pkg/logger"
	"coursehub_backend/pkg/messaging"
	"coursehub_backend/pkg/monitoring"
	"coursehub_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AttemptService struct {
	DB          *gorm.DB
	QuizRepo    *repository.QuizRepository
	AttemptRepo *repository.AttemptRepository
	CourseRepo  *repository.CourseRepository
	Analytics   *AnalyticsService
	Publisher   messaging.Publisher
	Now         Clock

	mu  sync.RWMutex
	cfg config.QuizConfig
}

func NewAttemptService(
	quizRepo *repository.QuizRepository,
	attemptRepo *repository.AttemptRepository,
	courseRepo *repository.CourseRepository,
	analytics *AnalyticsService,
	publisher messaging.Publisher,
	cfg config.QuizConfig,
	db *gorm.DB,
) *AttemptService {
	return &AttemptService{
		DB:          db,
		QuizRepo:    quizRepo,
		AttemptRepo: attemptRepo,
		CourseRepo:  courseRepo,
		Analytics:   analytics,
		Publisher:   publisher,
		cfg:         cfg,
	}
}

// ApplyConfig 配置热更新
func (s *AttemptService) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg.Quiz
	s.mu.Unlock()
}

func (s *AttemptService) quizConfig() config.QuizConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// StartAttempt 开始或继续答题。created 为 false 表示返回的是进行中的旧记录
func (s *AttemptService) StartAttempt(ctx context.Context, quizID string, studentID uint) (*model.Attempt, bool, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AttemptService.StartAttempt")
	defer span.End()
	span.SetAttributes(attribute.String("quiz_id", quizID))

	attempt, created, err := s.startOnce(ctx, quizID, studentID)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 并发开始时 attempt_number 唯一约束冲突，重试一次会拿到胜者的记录
		logger.Log.Debug("Attempt number conflict, retrying",
			zap.String("quiz_id", quizID),
			zap.Uint("student_id", studentID),
		)
		attempt, created, err = s.startOnce(ctx, quizID, studentID)
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		monitoring.AttemptsStarted.Inc()
		logger.Log.Info("Quiz attempt started",
			zap.String("quiz_id", quizID),
			zap.String("attempt_id", attempt.ID),
			zap.Uint("student_id", studentID),
			zap.Int("attempt_number", attempt.AttemptNumber),
		)
	}
	return attempt, created, nil
}

func (s *AttemptService) startOnce(ctx context.Context, quizID string, studentID uint) (*model.Attempt, bool, error) {
	var (
		attempt  *model.Attempt
		rejected error
	)
	created := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quizzes := s.QuizRepo.WithTx(tx)
		attempts := s.AttemptRepo.WithTx(tx)
		courses := s.CourseRepo.WithTx(tx)

		quiz, err := quizzes.FindByID(ctx, quizID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrQuizNotFound
			}
			return err
		}

		enrollment, err := courses.FindActiveEnrollment(ctx, studentID, quiz.CourseID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrNotEnrolled
			}
			return err
		}

		now := s.Now.now()
		if !quiz.IsAvailable(now) {
			return util.ErrQuizNotAvailable
		}

		existing, err := attempts.FindInProgress(ctx, quizID, studentID)
		switch {
		case err == nil:
			expired, err := expireIfNeeded(ctx, attempts, existing, now)
			if err != nil {
				return err
			}
			if !expired {
				attempt = existing
				return nil
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		count, err := attempts.CountByQuizAndStudent(ctx, quizID, studentID)
		if err != nil {
			return err
		}
		if int(count) >= quiz.MaxAttempts {
			// 已写入的 time_expired 随事务提交，拒绝在提交后返回
			rejected = util.ValidationError("maximum attempts (%d) reached", quiz.MaxAttempts)
			return nil
		}

		a := &model.Attempt{
			QuizID:        quizID,
			StudentID:     studentID,
			EnrollmentID:  enrollment.ID,
			AttemptNumber: int(count) + 1,
			Status:        model.AttemptInProgress,
			StartedAt:     &now,
			QuizSettings:  datatypes.NewJSONType(quiz.Settings()),
		}
		if quiz.TimeLimitMinutes != nil && *quiz.TimeLimitMinutes > 0 {
			limit := *quiz.TimeLimitMinutes
			expiresAt := now.Add(time.Duration(limit) * time.Minute)
			a.TimeLimitMinutes = &limit
			a.ExpiresAt = &expiresAt
		}
		if err := attempts.Create(ctx, a); err != nil {
			return err
		}
		attempt = a
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if rejected != nil {
		return nil, false, rejected
	}
	return attempt, created, nil
}

// expireIfNeeded 惰性过期：进行中且已超时的记录先置为 time_expired
func expireIfNeeded(ctx context.Context, attempts *repository.AttemptRepository, a *model.Attempt, now time.Time) (bool, error) {
	if a.Status != model.AttemptInProgress || !a.IsExpired(now) {
		return false, nil
	}
	a.Status = model.AttemptTimeExpired
	if err := attempts.Update(ctx, a); err != nil {
		return false, err
	}
	logger.Log.Info("Quiz attempt expired", zap.String("attempt_id", a.ID), zap.String("quiz_id", a.QuizID))
	return true, nil
}

func (s *AttemptService) findAttempt(ctx context.Context, attempts *repository.AttemptRepository, attemptID string) (*model.Attempt, error) {
	a, err := attempts.FindByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAttemptNotFound
		}
		return nil, err
	}
	return a, nil
}

// SubmitResponse 保存单题作答并立即判分，重复提交覆盖之前的作答
func (s *AttemptService) SubmitResponse(ctx context.Context, attemptID, questionID string, studentID uint, req SubmitResponseRequest) (*ResponseView, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AttemptService.SubmitResponse")
	defer span.End()

	if err := validateStruct(&req); err != nil {
		return nil, err
	}

	var saved *model.Response
	expired := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempts := s.AttemptRepo.WithTx(tx)
		quizzes := s.QuizRepo.WithTx(tx)

		attempt, err := s.findAttempt(ctx, attempts, attemptID)
		if err != nil {
			return err
		}
		if attempt.StudentID != studentID {
			return util.ErrPermissionDenied
		}

		now := s.Now.now()
		if expired, err = expireIfNeeded(ctx, attempts, attempt, now); err != nil || expired {
			return err
		}
		if attempt.Status != model.AttemptInProgress {
			return util.InvalidStateError("attempt is %s", attempt.Status)
		}

		question, err := quizzes.FindQuestion(ctx, questionID)
		if err != nil {
			return util.NotFoundOr(err, "question")
		}
		if question.QuizID != attempt.QuizID {
			return util.ErrQuestionNotFound
		}
		if err := ValidatePayload(question, req); err != nil {
			return err
		}

		resp, err := attempts.FindResponse(ctx, attemptID, questionID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			resp = &model.Response{AttemptID: attemptID, QuestionID: questionID}
		}

		selected := req.SelectedAnswerIDs
		if selected == nil {
			selected = []string{}
		}
		resp.SelectedAnswerIDs = datatypes.NewJSONType(selected)
		resp.TextResponse = ""
		if req.TextResponse != nil {
			resp.TextResponse = *req.TextResponse
		}
		resp.ResponseData = datatypes.JSON("{}")
		if len(req.ResponseData) > 0 && string(req.ResponseData) != "null" {
			resp.ResponseData = datatypes.JSON(req.ResponseData)
		}
		resp.TimeSpentSeconds = req.TimeSpentSeconds
		resp.AnsweredAt = now
		resp.Feedback = ""
		resp.GradedBy = nil
		resp.GradedAt = nil

		resp.IsCorrect, resp.PointsEarned = Evaluate(question, resp)
		if err := attempts.SaveResponse(ctx, resp); err != nil {
			return err
		}
		saved = resp
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, util.InvalidStateError("response is being submitted concurrently, retry")
		}
		return nil, err
	}
	if expired {
		return nil, util.ErrAttemptExpired
	}

	view := newResponseView(saved, false)
	return &view, nil
}

// CompleteAttempt 交卷：同一事务内汇总得分并置为 completed
func (s *AttemptService) CompleteAttempt(ctx context.Context, attemptID string, studentID uint) (*AttemptView, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AttemptService.CompleteAttempt")
	defer span.End()

	var attempt *model.Attempt
	var responses []model.Response

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempts := s.AttemptRepo.WithTx(tx)
		quizzes := s.QuizRepo.WithTx(tx)

		a, err := s.findAttempt(ctx, attempts, attemptID)
		if err != nil {
			return err
		}
		if a.StudentID != studentID {
			return util.ErrPermissionDenied
		}

		now := s.Now.now()
		if a.Status == model.AttemptInProgress && a.IsExpired(now) {
			a.Status = model.AttemptTimeExpired
		}
		if a.Status != model.AttemptInProgress && a.Status != model.AttemptTimeExpired {
			return util.InvalidStateError("cannot complete attempt in status %s", a.Status)
		}

		quiz, err := quizzes.FindByID(ctx, a.QuizID)
		if err != nil {
			return util.NotFoundOr(err, "quiz")
		}

		if responses, err = attempts.ListResponses(ctx, a.ID); err != nil {
			return err
		}
		score, err := foldScore(ctx, quizzes, responses, quiz.PassingScore)
		if err != nil {
			return err
		}

		a.Status = model.AttemptCompleted
		a.CompletedAt = &now
		if a.StartedAt != nil {
			a.TimeSpentSeconds = int(now.Sub(*a.StartedAt).Seconds())
		}
		a.ScorePoints = score.EarnedPoints
		a.ScorePercentage = score.Percentage
		a.Passed = score.Passed
		if err := attempts.Update(ctx, a); err != nil {
			return err
		}
		attempt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.ObserveCompletion(attempt.ScorePercentage, attempt.Passed)
	logger.Log.Info("Quiz attempt completed",
		zap.String("quiz_id", attempt.QuizID),
		zap.String("attempt_id", attempt.ID),
		zap.Uint("student_id", studentID),
		zap.Float64("score_percentage", attempt.ScorePercentage),
		zap.Bool("passed", attempt.Passed),
	)
	publishEvent(ctx, s.Publisher, util.QueueAttemptCompleted, attemptCompletedEvent(attempt))

	if s.quizConfig().RecomputeAnalyticsOnComplete && s.Analytics != nil {
		if _, err := s.Analytics.Calculate(ctx, attempt.QuizID); err != nil {
			logger.Log.Warn("Analytics recompute after completion failed",
				zap.String("quiz_id", attempt.QuizID),
				zap.Error(err),
			)
		}
	}

	view := newAttemptView(attempt, responses, model.Actor{ID: studentID, Role: model.Student}, s.Now.now())
	return &view, nil
}

// foldScore 载入作答涉及的题目后汇总得分
func foldScore(ctx context.Context, quizzes *repository.QuizRepository, responses []model.Response, passingScore int) (Score, error) {
	ids := make([]string, 0, len(responses))
	for _, r := range responses {
		ids = append(ids, r.QuestionID)
	}
	questions, err := quizzes.FindQuestionsByIDs(ctx, ids)
	if err != nil {
		return Score{}, err
	}
	byID := make(map[string]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}
	return CalculateScore(responses, byID, passingScore), nil
}

// GradeEssayRequest 教师批改问答题
type GradeEssayRequest struct {
	Points   int    `json:"points" validate:"gte=0"`
	Feedback string `json:"feedback" validate:"max=5000"`
}

// GradeEssay 人工批改只改写得分相关字段，并在同一事务内重新汇总答题得分
func (s *AttemptService) GradeEssay(ctx context.Context, responseID string, grader model.Actor, req GradeEssayRequest) (*model.Response, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AttemptService.GradeEssay")
	defer span.End()

	if err := validateStruct(&req); err != nil {
		return nil, err
	}

	var graded *model.Response
	var attemptID string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempts := s.AttemptRepo.WithTx(tx)
		quizzes := s.QuizRepo.WithTx(tx)

		resp, err := attempts.FindResponseByID(ctx, responseID)
		if err != nil {
			return util.NotFoundOr(err, "response")
		}
		attempt, err := s.findAttempt(ctx, attempts, resp.AttemptID)
		if err != nil {
			return err
		}
		quiz, err := quizzes.FindByID(ctx, attempt.QuizID)
		if err != nil {
			return util.NotFoundOr(err, "quiz")
		}
		if _, err := ensureInstructor(ctx, s.CourseRepo.WithTx(tx), quiz.CourseID, grader); err != nil {
			return err
		}
		question, err := quizzes.FindQuestion(ctx, resp.QuestionID)
		if err != nil {
			return util.NotFoundOr(err, "question")
		}
		if question.Type != model.Essay {
			return util.ValidationError("only essay responses can be graded manually")
		}
		if attempt.Status != model.AttemptCompleted {
			return util.InvalidStateError("attempt must be completed before grading")
		}
		if req.Points < 0 || req.Points > question.Points {
			return util.ValidationError("points must be between 0 and %d", question.Points)
		}

		now := s.Now.now()
		graderID := grader.ID
		resp.PointsEarned = req.Points
		resp.IsCorrect = req.Points == question.Points
		resp.Feedback = req.Feedback
		resp.GradedBy = &graderID
		resp.GradedAt = &now
		if err := attempts.SaveResponse(ctx, resp); err != nil {
			return err
		}

		responses, err := attempts.ListResponses(ctx, attempt.ID)
		if err != nil {
			return err
		}
		score, err := foldScore(ctx, quizzes, responses, quiz.PassingScore)
		if err != nil {
			return err
		}
		attempt.ScorePoints = score.EarnedPoints
		attempt.ScorePercentage = score.Percentage
		attempt.Passed = score.Passed
		if err := attempts.Update(ctx, attempt); err != nil {
			return err
		}

		graded = resp
		attemptID = attempt.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Essay graded",
		zap.String("response_id", responseID),
		zap.String("attempt_id", attemptID),
		zap.Uint("teacher_id", grader.ID),
		zap.Int("points", req.Points),
	)
	return graded, nil
}

// GetAttempt 学生只能看自己的记录；教师看自己课程下的；管理员不限
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID string, actor model.Actor) (*AttemptView, error) {
	attempt, err := s.findAttempt(ctx, s.AttemptRepo, attemptID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, attempt, actor); err != nil {
		return nil, err
	}
	now := s.Now.now()
	if _, err := expireIfNeeded(ctx, s.AttemptRepo, attempt, now); err != nil {
		return nil, err
	}
	responses, err := s.AttemptRepo.ListResponses(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	view := newAttemptView(attempt, responses, actor, now)
	return &view, nil
}

func (s *AttemptService) authorizeRead(ctx context.Context, attempt *model.Attempt, actor model.Actor) error {
	switch {
	case actor.IsAdmin():
		return nil
	case actor.Role == model.Student:
		if attempt.StudentID != actor.ID {
			return util.ErrPermissionDenied
		}
		return nil
	}
	quiz, err := s.QuizRepo.FindByID(ctx, attempt.QuizID)
	if err != nil {
		return util.NotFoundOr(err, "quiz")
	}
	_, err = ensureInstructor(ctx, s.CourseRepo, quiz.CourseID, actor)
	return err
}

func (s *AttemptService) ListStudentAttempts(ctx context.Context, studentID uint, quizID string) ([]AttemptView, error) {
	attempts, err := s.AttemptRepo.ListByStudent(ctx, studentID, quizID)
	if err != nil {
		return nil, err
	}
	now := s.Now.now()
	actor := model.Actor{ID: studentID, Role: model.Student}
	views := make([]AttemptView, 0, len(attempts))
	for i := range attempts {
		if _, err := expireIfNeeded(ctx, s.AttemptRepo, &attempts[i], now); err != nil {
			return nil, err
		}
		views = append(views, newAttemptView(&attempts[i], nil, actor, now))
	}
	return views, nil
}

// ListQuizAttempts 教师查看测验的答题记录，可按状态和学生过滤
func (s *AttemptService) ListQuizAttempts(ctx context.Context, quizID string, actor model.Actor, filter repository.AttemptFilter, page, limit int) ([]AttemptView, int64, error) {
	quiz, err := s.QuizRepo.FindByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, util.ErrQuizNotFound
		}
		return nil, 0, err
	}
	if _, err := ensureInstructor(ctx, s.CourseRepo, quiz.CourseID, actor); err != nil {
		return nil, 0, err
	}

	attempts, total, err := s.AttemptRepo.ListByQuiz(ctx, quizID, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}
	now := s.Now.now()
	views := make([]AttemptView, 0, len(attempts))
	for i := range attempts {
		if _, err := expireIfNeeded(ctx, s.AttemptRepo, &attempts[i], now); err != nil {
			return nil, 0, err
		}
		views = append(views, newAttemptView(&attempts[i], nil, actor, now))
	}
	return views, total, nil
}

type ScoreView struct {
	Points     int     `json:"points"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
}

type ResponseView struct {
	ID                string          `json:"id"`
	QuestionID        string          `json:"questionId"`
	SelectedAnswerIDs []string        `json:"selectedAnswerIds"`
	TextResponse      string          `json:"textResponse,omitempty"`
	ResponseData      json.RawMessage `json:"responseData,omitempty"`
	TimeSpentSeconds  int             `json:"timeSpentSeconds"`
	AnsweredAt        time.Time       `json:"answeredAt"`
	IsCorrect         *bool           `json:"isCorrect,omitempty"`
	PointsEarned      *int            `json:"pointsEarned,omitempty"`
	Feedback          string          `json:"feedback,omitempty"`
}

func newResponseView(r *model.Response, withResult bool) ResponseView {
	v := ResponseView{
		ID:                r.ID,
		QuestionID:        r.QuestionID,
		SelectedAnswerIDs: r.SelectedAnswerIDs.Data(),
		TextResponse:      r.TextResponse,
		ResponseData:      json.RawMessage(r.ResponseData),
		TimeSpentSeconds:  r.TimeSpentSeconds,
		AnsweredAt:        r.AnsweredAt,
	}
	if withResult {
		correct := r.IsCorrect
		points := r.PointsEarned
		v.IsCorrect = &correct
		v.PointsEarned = &points
		v.Feedback = r.Feedback
	}
	return v
}

// AttemptView 根据答题快照中的设置裁剪学生可见的内容
type AttemptView struct {
	ID                   string              `json:"id"`
	QuizID               string              `json:"quizId"`
	StudentID            uint                `json:"studentId"`
	AttemptNumber        int                 `json:"attemptNumber"`
	Status               model.AttemptStatus `json:"status"`
	StartedAt            *time.Time          `json:"startedAt,omitempty"`
	CompletedAt          *time.Time          `json:"completedAt,omitempty"`
	ExpiresAt            *time.Time          `json:"expiresAt,omitempty"`
	TimeSpentSeconds     int                 `json:"timeSpentSeconds"`
	TimeRemainingSeconds *int                `json:"timeRemainingSeconds,omitempty"`
	Settings             model.QuizSettings  `json:"settings"`
	Score                *ScoreView          `json:"score,omitempty"`
	Responses            []ResponseView      `json:"responses,omitempty"`
}

func newAttemptView(a *model.Attempt, responses []model.Response, actor model.Actor, now time.Time) AttemptView {
	settings := a.QuizSettings.Data()
	v := AttemptView{
		ID:               a.ID,
		QuizID:           a.QuizID,
		StudentID:        a.StudentID,
		AttemptNumber:    a.AttemptNumber,
		Status:           a.Status,
		StartedAt:        a.StartedAt,
		CompletedAt:      a.CompletedAt,
		ExpiresAt:        a.ExpiresAt,
		TimeSpentSeconds: a.TimeSpentSeconds,
		Settings:         settings,
	}
	if a.Status == model.AttemptInProgress {
		v.TimeRemainingSeconds = a.TimeRemainingSeconds(now)
	}

	staff := actor.Role != model.Student
	completed := a.Status == model.AttemptCompleted

	if completed && (staff || settings.ShowScoreImmediately) {
		v.Score = &ScoreView{Points: a.ScorePoints, Percentage: a.ScorePercentage, Passed: a.Passed}
	}

	showResponses := staff || !completed || settings.AllowReview
	if !showResponses {
		return v
	}
	withResult := staff || (completed && settings.ShowCorrectAnswers)
	for i := range responses {
		v.Responses = append(v.Responses, newResponseView(&responses[i], withResult))
	}
	return v
}
