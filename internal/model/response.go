package model

import (
	"time"

	"gorm.io/datatypes"
)

// swagger:model Response
type Response struct {
	UUIDBase
	AttemptID  string `gorm:"size:36;not null;uniqueIndex:idx_response_attempt_question" json:"attemptId"`
	QuestionID string `gorm:"size:36;not null;index;uniqueIndex:idx_response_attempt_question" json:"questionId"`

	SelectedAnswerIDs datatypes.JSONType[[]string] `json:"selectedAnswerIds"`
	TextResponse      string                       `gorm:"type:text" json:"textResponse"`
	ResponseData      datatypes.JSON               `json:"responseData"`

	IsCorrect    bool `gorm:"not null" json:"isCorrect"`
	PointsEarned int  `gorm:"not null" json:"pointsEarned"`

	TimeSpentSeconds int       `gorm:"not null" json:"timeSpentSeconds"`
	AnsweredAt       time.Time `json:"answeredAt"`

	// 人工批改信息（问答题）
	Feedback string     `gorm:"type:text" json:"feedback,omitempty"`
	GradedBy *uint      `json:"gradedBy,omitempty"`
	GradedAt *time.Time `json:"gradedAt,omitempty"`
}

func (Response) TableName() string {
	return "question_responses"
}
