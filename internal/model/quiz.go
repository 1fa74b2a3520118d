package model

import "time"

type QuizType string

const (
	QuizPractice QuizType = "practice"
	QuizGraded   QuizType = "graded"
	QuizFinal    QuizType = "final"
	QuizSurvey   QuizType = "survey"
)

// swagger:model Quiz
type Quiz struct {
	UUIDBase
	CourseID     string   `gorm:"size:36;index;not null" json:"courseId"`
	LessonID     *string  `gorm:"size:36;index" json:"lessonId,omitempty"`
	Title        string   `gorm:"size:200;not null" json:"title"`
	Description  string   `gorm:"type:text" json:"description"`
	Instructions string   `gorm:"type:text" json:"instructions"`
	Type         QuizType `gorm:"size:20;not null" json:"type"`

	TimeLimitMinutes *int `json:"timeLimitMinutes,omitempty"`
	MaxAttempts      int  `gorm:"not null" json:"maxAttempts"`
	PassingScore     int  `gorm:"not null" json:"passingScore"`
	// 由题目分值汇总，随题目增删改同步维护
	TotalPoints int `gorm:"not null" json:"totalPoints"`

	AvailableFrom  *time.Time `json:"availableFrom,omitempty"`
	AvailableUntil *time.Time `json:"availableUntil,omitempty"`
	IsActive       bool       `gorm:"not null" json:"isActive"`

	ShuffleQuestions     bool `gorm:"not null" json:"shuffleQuestions"`
	ShuffleAnswers       bool `gorm:"not null" json:"shuffleAnswers"`
	ShowCorrectAnswers   bool `gorm:"not null" json:"showCorrectAnswers"`
	ShowScoreImmediately bool `gorm:"not null" json:"showScoreImmediately"`
	AllowReview          bool `gorm:"not null" json:"allowReview"`
	RequireCompletion    bool `gorm:"not null" json:"requireCompletion"`

	CreatedBy uint       `gorm:"index" json:"createdBy"`
	Questions []Question `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// IsAvailable 检查可用时间窗口和启用状态
func (q *Quiz) IsAvailable(now time.Time) bool {
	if q.AvailableFrom != nil && now.Before(*q.AvailableFrom) {
		return false
	}
	if q.AvailableUntil != nil && now.After(*q.AvailableUntil) {
		return false
	}
	return q.IsActive
}

// Settings 开始答题时拍下的行为开关快照
func (q *Quiz) Settings() QuizSettings {
	return QuizSettings{
		ShuffleQuestions:     q.ShuffleQuestions,
		ShuffleAnswers:       q.ShuffleAnswers,
		ShowCorrectAnswers:   q.ShowCorrectAnswers,
		ShowScoreImmediately: q.ShowScoreImmediately,
		AllowReview:          q.AllowReview,
	}
}
