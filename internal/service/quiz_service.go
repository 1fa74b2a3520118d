package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"coursehub_backend/internal/model"
	"coursehub_backend/internal/repository"
	"coursehub_backend/internal/util"
	"coursehub_backend/pkg/logger"
	"coursehub_backend/pkg/tracing"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type QuizService struct {
	DB          *gorm.DB
	QuizRepo    *repository.QuizRepository
	CourseRepo  *repository.CourseRepository
	AttemptRepo *repository.AttemptRepository
	Now         Clock
}

func NewQuizService(quizRepo *repository.QuizRepository, courseRepo *repository.CourseRepository, attemptRepo *repository.AttemptRepository, db *gorm.DB) *QuizService {
	return &QuizService{
		DB:          db,
		QuizRepo:    quizRepo,
		CourseRepo:  courseRepo,
		AttemptRepo: attemptRepo,
	}
}

type AnswerRequest struct {
	AnswerText string `json:"answerText" validate:"required,max=2000"`
	IsCorrect  bool   `json:"isCorrect"`
	MatchOrder *int   `json:"matchOrder" validate:"omitempty,gte=0"`
}

type QuestionRequest struct {
	Type         model.QuestionType `json:"type" validate:"required,oneof=multiple_choice true_false short_answer essay fill_blank matching ordering"`
	QuestionText string             `json:"questionText" validate:"required"`
	Explanation  string             `json:"explanation"`
	// 0 表示使用默认值 1
	Points     int             `json:"points" validate:"gte=0"`
	Order      int             `json:"order" validate:"gte=0"`
	IsRequired *bool           `json:"isRequired"`
	Answers    []AnswerRequest `json:"answers" validate:"dive"`
}

type QuizRequest struct {
	CourseID     string         `json:"courseId" validate:"required"`
	LessonID     *string        `json:"lessonId"`
	Title        string         `json:"title" validate:"required,max=200"`
	Description  string         `json:"description"`
	Instructions string         `json:"instructions"`
	Type         model.QuizType `json:"type" validate:"omitempty,oneof=practice graded final survey"`

	TimeLimitMinutes *int `json:"timeLimitMinutes" validate:"omitempty,gte=1"`
	MaxAttempts      *int `json:"maxAttempts" validate:"omitempty,gte=1"`
	PassingScore     *int `json:"passingScore" validate:"omitempty,gte=0,lte=100"`

	AvailableFrom  *time.Time `json:"availableFrom"`
	AvailableUntil *time.Time `json:"availableUntil"`

	IsActive             *bool `json:"isActive"`
	ShuffleQuestions     *bool `json:"shuffleQuestions"`
	ShuffleAnswers       *bool `json:"shuffleAnswers"`
	ShowCorrectAnswers   *bool `json:"showCorrectAnswers"`
	ShowScoreImmediately *bool `json:"showScoreImmediately"`
	AllowReview          *bool `json:"allowReview"`
	RequireCompletion    *bool `json:"requireCompletion"`

	Questions []QuestionRequest `json:"questions" validate:"dive"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func validateQuizRequest(req *QuizRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	if req.AvailableFrom != nil && req.AvailableUntil != nil && !req.AvailableFrom.Before(*req.AvailableUntil) {
		return util.ValidationError("availableFrom must be before availableUntil")
	}
	for i := range req.Questions {
		if err := validateQuestionRules(&req.Questions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateQuestionRules 题型与答案选项的约束
func validateQuestionRules(req *QuestionRequest) error {
	if !req.Type.Valid() {
		return util.ValidationError("unsupported question type %q", req.Type)
	}

	correct := 0
	for _, a := range req.Answers {
		if a.IsCorrect {
			correct++
		}
	}

	switch req.Type {
	case model.TrueFalse:
		if len(req.Answers) != 2 {
			return util.ValidationError("true_false questions need exactly two answers")
		}
		if correct != 1 {
			return util.ValidationError("true_false questions need exactly one correct answer")
		}
	case model.MultipleChoice:
		if len(req.Answers) < 2 {
			return util.ValidationError("multiple_choice questions need at least two answers")
		}
		if correct < 1 {
			return util.ValidationError("multiple_choice questions need at least one correct answer")
		}
	case model.ShortAnswer, model.FillBlank:
		if correct < 1 {
			return util.ValidationError("%s questions need at least one accepted answer", req.Type)
		}
	case model.Matching, model.Ordering:
		if len(req.Answers) < 2 {
			return util.ValidationError("%s questions need at least two answers", req.Type)
		}
		seen := make(map[int]bool, len(req.Answers))
		for _, a := range req.Answers {
			if a.MatchOrder == nil {
				return util.ValidationError("%s answers need matchOrder", req.Type)
			}
			if req.Type == model.Ordering && seen[*a.MatchOrder] {
				return util.ValidationError("ordering answers need distinct matchOrder values")
			}
			seen[*a.MatchOrder] = true
		}
	}
	return nil
}

func buildAnswers(reqs []AnswerRequest) []model.Answer {
	answers := make([]model.Answer, len(reqs))
	for i, a := range reqs {
		answers[i] = model.Answer{
			AnswerText: a.AnswerText,
			IsCorrect:  a.IsCorrect,
			MatchOrder: a.MatchOrder,
			Order:      i + 1,
		}
	}
	return answers
}

// CreateQuiz 创建测验，可同时带上题目
func (s *QuizService) CreateQuiz(ctx context.Context, actor model.Actor, req QuizRequest) (*model.Quiz, error) {
	ctx, span := tracing.Tracer.Start(ctx, "QuizService.CreateQuiz")
	defer span.End()

	if err := validateQuizRequest(&req); err != nil {
		return nil, err
	}
	if _, err := ensureInstructor(ctx, s.CourseRepo, req.CourseID, actor); err != nil {
		return nil, err
	}

	quiz := &model.Quiz{
		CourseID:             req.CourseID,
		LessonID:             req.LessonID,
		Title:                req.Title,
		Description:          req.Description,
		Instructions:         req.Instructions,
		Type:                 req.Type,
		TimeLimitMinutes:     req.TimeLimitMinutes,
		MaxAttempts:          1,
		PassingScore:         70,
		AvailableFrom:        req.AvailableFrom,
		AvailableUntil:       req.AvailableUntil,
		IsActive:             boolOr(req.IsActive, true),
		ShuffleQuestions:     boolOr(req.ShuffleQuestions, false),
		ShuffleAnswers:       boolOr(req.ShuffleAnswers, false),
		ShowCorrectAnswers:   boolOr(req.ShowCorrectAnswers, true),
		ShowScoreImmediately: boolOr(req.ShowScoreImmediately, true),
		AllowReview:          boolOr(req.AllowReview, true),
		RequireCompletion:    boolOr(req.RequireCompletion, false),
		CreatedBy:            actor.ID,
	}
	if quiz.Type == "" {
		quiz.Type = model.QuizPractice
	}
	if req.MaxAttempts != nil {
		quiz.MaxAttempts = *req.MaxAttempts
	}
	if req.PassingScore != nil {
		quiz.PassingScore = *req.PassingScore
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quizzes := s.QuizRepo.WithTx(tx)
		if err := quizzes.Create(ctx, quiz); err != nil {
			return err
		}
		for i := range req.Questions {
			if _, err := s.insertQuestion(ctx, quizzes, quiz.ID, &req.Questions[i]); err != nil {
				return err
			}
		}
		_, err := quizzes.RecalculateTotalPoints(ctx, quiz.ID)
		return err
	})
	if err != nil {
		return nil, questionConflict(err)
	}

	logger.Log.Info("Quiz created",
		zap.String("quiz_id", quiz.ID),
		zap.String("course_id", quiz.CourseID),
		zap.Uint("teacher_id", actor.ID),
	)
	return s.QuizRepo.FindWithQuestions(ctx, quiz.ID)
}

func questionConflict(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ValidationError("question order already in use")
	}
	return err
}

// loadOwnedQuiz 加载测验并校验讲师身份
func (s *QuizService) loadOwnedQuiz(ctx context.Context, quizzes *repository.QuizRepository, courses *repository.CourseRepository, quizID string, actor model.Actor) (*model.Quiz, error) {
	quiz, err := quizzes.FindByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuizNotFound
		}
		return nil, err
	}
	if _, err := ensureInstructor(ctx, courses, quiz.CourseID, actor); err != nil {
		return nil, err
	}
	return quiz, nil
}

func (s *QuizService) GetQuiz(ctx context.Context, actor model.Actor, quizID string) (*model.Quiz, error) {
	if _, err := s.loadOwnedQuiz(ctx, s.QuizRepo, s.CourseRepo, quizID, actor); err != nil {
		return nil, err
	}
	return s.QuizRepo.FindWithQuestions(ctx, quizID)
}

// ListTeacherQuizzes courseID 为空时列出讲师名下所有课程的测验
func (s *QuizService) ListTeacherQuizzes(ctx context.Context, actor model.Actor, courseID string, page, limit int) ([]model.Quiz, int64, error) {
	var courseIDs []string
	if courseID != "" {
		if _, err := ensureInstructor(ctx, s.CourseRepo, courseID, actor); err != nil {
			return nil, 0, err
		}
		courseIDs = []string{courseID}
	} else {
		courses, err := s.CourseRepo.ListByInstructor(ctx, actor.ID)
		if err != nil {
			return nil, 0, err
		}
		for _, c := range courses {
			courseIDs = append(courseIDs, c.ID)
		}
	}
	return s.QuizRepo.ListByCourses(ctx, courseIDs, false, page, limit)
}

// UpdateQuiz 只更新测验本身，题目通过题目接口维护；课程归属不可修改
func (s *QuizService) UpdateQuiz(ctx context.Context, actor model.Actor, quizID string, req QuizRequest) (*model.Quiz, error) {
	ctx, span := tracing.Tracer.Start(ctx, "QuizService.UpdateQuiz")
	defer span.End()

	req.Questions = nil
	if err := validateQuizRequest(&req); err != nil {
		return nil, err
	}

	quiz, err := s.loadOwnedQuiz(ctx, s.QuizRepo, s.CourseRepo, quizID, actor)
	if err != nil {
		return nil, err
	}
	if req.CourseID != quiz.CourseID {
		return nil, util.ValidationError("quiz cannot be moved to another course")
	}

	quiz.LessonID = req.LessonID
	quiz.Title = req.Title
	quiz.Description = req.Description
	quiz.Instructions = req.Instructions
	if req.Type != "" {
		quiz.Type = req.Type
	}
	quiz.TimeLimitMinutes = req.TimeLimitMinutes
	if req.MaxAttempts != nil {
		quiz.MaxAttempts = *req.MaxAttempts
	}
	if req.PassingScore != nil {
		quiz.PassingScore = *req.PassingScore
	}
	quiz.AvailableFrom = req.AvailableFrom
	quiz.AvailableUntil = req.AvailableUntil
	quiz.IsActive = boolOr(req.IsActive, quiz.IsActive)
	quiz.ShuffleQuestions = boolOr(req.ShuffleQuestions, quiz.ShuffleQuestions)
	quiz.ShuffleAnswers = boolOr(req.ShuffleAnswers, quiz.ShuffleAnswers)
	quiz.ShowCorrectAnswers = boolOr(req.ShowCorrectAnswers, quiz.ShowCorrectAnswers)
	quiz.ShowScoreImmediately = boolOr(req.ShowScoreImmediately, quiz.ShowScoreImmediately)
	quiz.AllowReview = boolOr(req.AllowReview, quiz.AllowReview)
	quiz.RequireCompletion = boolOr(req.RequireCompletion, quiz.RequireCompletion)

	if err := s.QuizRepo.Update(ctx, quiz); err != nil {
		return nil, err
	}
	return s.QuizRepo.FindWithQuestions(ctx, quiz.ID)
}

func (s *QuizService) DeleteQuiz(ctx context.Context, actor model.Actor, quizID string) error {
	if _, err := s.loadOwnedQuiz(ctx, s.QuizRepo, s.CourseRepo, quizID, actor); err != nil {
		return err
	}
	if err := s.QuizRepo.Delete(ctx, quizID); err != nil {
		return err
	}
	logger.Log.Info("Quiz deleted", zap.String("quiz_id", quizID), zap.Uint("teacher_id", actor.ID))
	return nil
}

// insertQuestion order 为 0 时自动取 max+1
func (s *QuizService) insertQuestion(ctx context.Context, quizzes *repository.QuizRepository, quizID string, req *QuestionRequest) (*model.Question, error) {
	order := req.Order
	if order == 0 {
		max, err := quizzes.MaxQuestionOrder(ctx, quizID)
		if err != nil {
			return nil, err
		}
		order = max + 1
	}
	points := req.Points
	if points == 0 {
		points = 1
	}

	q := &model.Question{
		QuizID:       quizID,
		Type:         req.Type,
		QuestionText: req.QuestionText,
		Explanation:  req.Explanation,
		Points:       points,
		Order:        order,
		IsRequired:   boolOr(req.IsRequired, true),
	}
	if err := quizzes.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}
	answers := buildAnswers(req.Answers)
	if err := quizzes.ReplaceAnswers(ctx, q.ID, answers); err != nil {
		return nil, err
	}
	q.Answers = answers
	return q, nil
}

// AddQuestion 新增题目并在同一事务内重算总分
func (s *QuizService) AddQuestion(ctx context.Context, actor model.Actor, quizID string, req QuestionRequest) (*model.Question, error) {
	ctx, span := tracing.Tracer.Start(ctx, "QuizService.AddQuestion")
	defer span.End()

	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	if err := validateQuestionRules(&req); err != nil {
		return nil, err
	}

	var question *model.Question
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quizzes := s.QuizRepo.WithTx(tx)
		if _, err := s.loadOwnedQuiz(ctx, quizzes, s.CourseRepo.WithTx(tx), quizID, actor); err != nil {
			return err
		}
		q, err := s.insertQuestion(ctx, quizzes, quizID, &req)
		if err != nil {
			return err
		}
		question = q
		_, err = quizzes.RecalculateTotalPoints(ctx, quizID)
		return err
	})
	if err != nil {
		return nil, questionConflict(err)
	}
	return question, nil
}

// UpdateQuestion 答案选项整体替换
func (s *QuizService) UpdateQuestion(ctx context.Context, actor model.Actor, quizID, questionID string, req QuestionRequest) (*model.Question, error) {
	ctx, span := tracing.Tracer.Start(ctx, "QuizService.UpdateQuestion")
	defer span.End()

	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	if err := validateQuestionRules(&req); err != nil {
		return nil, err
	}

	var question *model.Question
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quizzes := s.QuizRepo.WithTx(tx)
		if _, err := s.loadOwnedQuiz(ctx, quizzes, s.CourseRepo.WithTx(tx), quizID, actor); err != nil {
			return err
		}
		q, err := quizzes.FindQuestion(ctx, questionID)
		if err != nil {
			return util.NotFoundOr(err, "question")
		}
		if q.QuizID != quizID {
			return util.ErrQuestionNotFound
		}

		q.Type = req.Type
		q.QuestionText = req.QuestionText
		q.Explanation = req.Explanation
		if req.Points > 0 {
			q.Points = req.Points
		}
		if req.Order > 0 {
			q.Order = req.Order
		}
		q.IsRequired = boolOr(req.IsRequired, q.IsRequired)
		if err := quizzes.UpdateQuestion(ctx, q); err != nil {
			return err
		}

		answers := buildAnswers(req.Answers)
		if err := quizzes.ReplaceAnswers(ctx, q.ID, answers); err != nil {
			return err
		}
		q.Answers = answers
		question = q

		_, err = quizzes.RecalculateTotalPoints(ctx, quizID)
		return err
	})
	if err != nil {
		return nil, questionConflict(err)
	}
	return question, nil
}

func (s *QuizService) DeleteQuestion(ctx context.Context, actor model.Actor, quizID, questionID string) error {
	ctx, span := tracing.Tracer.Start(ctx, "QuizService.DeleteQuestion")
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quizzes := s.QuizRepo.WithTx(tx)
		if _, err := s.loadOwnedQuiz(ctx, quizzes, s.CourseRepo.WithTx(tx), quizID, actor); err != nil {
			return err
		}
		q, err := quizzes.FindQuestion(ctx, questionID)
		if err != nil {
			return util.NotFoundOr(err, "question")
		}
		if q.QuizID != quizID {
			return util.ErrQuestionNotFound
		}
		if err := quizzes.DeleteQuestion(ctx, questionID); err != nil {
			return util.NotFoundOr(err, "question")
		}
		_, err = quizzes.RecalculateTotalPoints(ctx, quizID)
		return err
	})
}

// StudentAnswer 学生可见的答案选项，不包含对错和匹配关系
type StudentAnswer struct {
	ID         string `json:"id"`
	AnswerText string `json:"answerText"`
}

type StudentQuestion struct {
	ID           string             `json:"id"`
	Type         model.QuestionType `json:"type"`
	QuestionText string             `json:"questionText"`
	Points       int                `json:"points"`
	IsRequired   bool               `json:"isRequired"`
	Answers      []StudentAnswer    `json:"answers"`
}

type StudentQuizView struct {
	ID               string            `json:"id"`
	CourseID         string            `json:"courseId"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Instructions     string            `json:"instructions"`
	Type             model.QuizType    `json:"type"`
	TimeLimitMinutes *int              `json:"timeLimitMinutes,omitempty"`
	MaxAttempts      int               `json:"maxAttempts"`
	PassingScore     int               `json:"passingScore"`
	TotalPoints      int               `json:"totalPoints"`
	AvailableFrom    *time.Time        `json:"availableFrom,omitempty"`
	AvailableUntil   *time.Time        `json:"availableUntil,omitempty"`
	IsAvailable      bool              `json:"isAvailable"`
	AttemptID        string            `json:"attemptId,omitempty"`
	Questions        []StudentQuestion `json:"questions"`
}

func (s *QuizService) ListStudentQuizzes(ctx context.Context, studentID uint, page, limit int) ([]model.Quiz, int64, error) {
	courseIDs, err := s.CourseRepo.ActiveCourseIDs(ctx, studentID)
	if err != nil {
		return nil, 0, err
	}
	return s.QuizRepo.ListByCourses(ctx, courseIDs, true, page, limit)
}

// displaySettings 进行中的作答沿用开始时的设置快照，之后对测验的修改不影响本次作答
func (s *QuizService) displaySettings(ctx context.Context, quiz *model.Quiz, studentID uint) (model.QuizSettings, string, error) {
	attempt, err := s.AttemptRepo.FindInProgress(ctx, quiz.ID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return quiz.Settings(), "", nil
		}
		return model.QuizSettings{}, "", err
	}
	if attempt.IsExpired(s.Now.now()) {
		return quiz.Settings(), "", nil
	}
	return attempt.QuizSettings.Data(), attempt.ID, nil
}

// GetStudentQuiz 隐藏答案信息，并按测验设置打乱题目和选项顺序
func (s *QuizService) GetStudentQuiz(ctx context.Context, studentID uint, quizID string) (*StudentQuizView, error) {
	quiz, err := s.QuizRepo.FindWithQuestions(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuizNotFound
		}
		return nil, err
	}
	if !quiz.IsActive {
		return nil, util.ErrQuizNotFound
	}
	if _, err := s.CourseRepo.FindActiveEnrollment(ctx, studentID, quiz.CourseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNotEnrolled
		}
		return nil, err
	}

	settings, attemptID, err := s.displaySettings(ctx, quiz, studentID)
	if err != nil {
		return nil, err
	}

	view := &StudentQuizView{
		ID:               quiz.ID,
		CourseID:         quiz.CourseID,
		Title:            quiz.Title,
		Description:      quiz.Description,
		Instructions:     quiz.Instructions,
		Type:             quiz.Type,
		TimeLimitMinutes: quiz.TimeLimitMinutes,
		MaxAttempts:      quiz.MaxAttempts,
		PassingScore:     quiz.PassingScore,
		TotalPoints:      quiz.TotalPoints,
		AvailableFrom:    quiz.AvailableFrom,
		AvailableUntil:   quiz.AvailableUntil,
		IsAvailable:      quiz.IsAvailable(s.Now.now()),
		AttemptID:        attemptID,
		Questions:        make([]StudentQuestion, 0, len(quiz.Questions)),
	}
	for _, q := range quiz.Questions {
		sq := StudentQuestion{
			ID:           q.ID,
			Type:         q.Type,
			QuestionText: q.QuestionText,
			Points:       q.Points,
			IsRequired:   q.IsRequired,
			Answers:      make([]StudentAnswer, 0, len(q.Answers)),
		}
		if q.Type != model.ShortAnswer && q.Type != model.FillBlank && q.Type != model.Essay {
			for _, a := range q.Answers {
				sq.Answers = append(sq.Answers, StudentAnswer{ID: a.ID, AnswerText: a.AnswerText})
			}
		}
		if settings.ShuffleAnswers {
			rand.Shuffle(len(sq.Answers), func(i, j int) {
				sq.Answers[i], sq.Answers[j] = sq.Answers[j], sq.Answers[i]
			})
		}
		view.Questions = append(view.Questions, sq)
	}
	if settings.ShuffleQuestions {
		rand.Shuffle(len(view.Questions), func(i, j int) {
			view.Questions[i], view.Questions[j] = view.Questions[j], view.Questions[i]
		})
	}
	return view, nil
}
