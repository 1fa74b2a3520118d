package model

import (
	"time"

	"gorm.io/datatypes"
)

type QuestionStat struct {
	TotalResponses     int64   `json:"total_responses"`
	CorrectResponses   int64   `json:"correct_responses"`
	AccuracyPercentage float64 `json:"accuracy_percentage"`
	AverageTime        float64 `json:"average_time"`
}

// swagger:model QuizAnalytics
type QuizAnalytics struct {
	UUIDBase
	QuizID            string  `gorm:"size:36;not null;uniqueIndex" json:"quizId"`
	TotalAttempts     int64   `gorm:"not null" json:"totalAttempts"`
	CompletedAttempts int64   `gorm:"not null" json:"completedAttempts"`
	AverageScore      float64 `gorm:"not null" json:"averageScore"`
	PassRate          float64 `gorm:"not null" json:"passRate"`
	// 秒
	AverageCompletionTime int64 `gorm:"not null" json:"averageCompletionTime"`

	QuestionStats  datatypes.JSONType[map[string]QuestionStat] `json:"questionStats"`
	LastCalculated time.Time                                   `gorm:"index" json:"lastCalculated"`
}

func (QuizAnalytics) TableName() string {
	return "quiz_analytics"
}

// QuizSummary 课程维度的测验概览
type QuizSummary struct {
	QuizID       string  `json:"quizId"`
	Title        string  `json:"title"`
	AttemptCount int64   `json:"attemptCount"`
	AverageScore float64 `json:"averageScore"`
}
