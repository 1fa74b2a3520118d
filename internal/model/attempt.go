package model

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptNotStarted  AttemptStatus = "not_started"
	AttemptInProgress  AttemptStatus = "in_progress"
	AttemptCompleted   AttemptStatus = "completed"
	AttemptAbandoned   AttemptStatus = "abandoned"
	AttemptTimeExpired AttemptStatus = "time_expired"
)

// Terminal 终态的答题记录不再接受作答
func (s AttemptStatus) Terminal() bool {
	return s == AttemptCompleted || s == AttemptAbandoned
}

type QuizSettings struct {
	ShuffleQuestions     bool `json:"shuffle_questions"`
	ShuffleAnswers       bool `json:"shuffle_answers"`
	ShowCorrectAnswers   bool `json:"show_correct_answers"`
	ShowScoreImmediately bool `json:"show_score_immediately"`
	AllowReview          bool `json:"allow_review"`
}

// swagger:model Attempt
type Attempt struct {
	UUIDBase
	QuizID        string        `gorm:"size:36;not null;uniqueIndex:idx_attempt_quiz_student_number" json:"quizId"`
	StudentID     uint          `gorm:"not null;index;uniqueIndex:idx_attempt_quiz_student_number" json:"studentId"`
	EnrollmentID  string        `gorm:"size:36;index" json:"enrollmentId"`
	AttemptNumber int           `gorm:"not null;uniqueIndex:idx_attempt_quiz_student_number" json:"attemptNumber"`
	Status        AttemptStatus `gorm:"size:20;not null;index" json:"status"`

	ScorePoints     int     `gorm:"not null" json:"scorePoints"`
	ScorePercentage float64 `gorm:"not null" json:"scorePercentage"`
	Passed          bool    `gorm:"not null" json:"passed"`

	TimeLimitMinutes *int       `json:"timeLimitMinutes,omitempty"`
	TimeSpentSeconds int        `gorm:"not null" json:"timeSpentSeconds"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`

	// 开始时复制的测验设置，之后测验被修改也不影响进行中的答题
	QuizSettings datatypes.JSONType[QuizSettings] `json:"quizSettings"`
}

func (Attempt) TableName() string {
	return "quiz_attempts"
}

func (a *Attempt) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// TimeRemainingSeconds 无时间限制时返回 nil
func (a *Attempt) TimeRemainingSeconds(now time.Time) *int {
	if a.ExpiresAt == nil {
		return nil
	}
	remaining := int(a.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}
