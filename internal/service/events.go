package service

import (
	"context"
	"time"

	"coursehub_backend/internal/model"
	"coursehub_backend/internal/util"
	"coursehub_backend/pkg/logger"
	"coursehub_backend/pkg/messaging"

	"go.uber.org/zap"
)

type AttemptCompletedEvent struct {
	AttemptID       string    `json:"attempt_id"`
	QuizID          string    `json:"quiz_id"`
	StudentID       uint      `json:"student_id"`
	ScorePercentage float64   `json:"score_percentage"`
	Passed          bool      `json:"passed"`
	CompletedAt     time.Time `json:"completed_at"`
}

type PayoutUpdatedEvent struct {
	PayoutID    string             `json:"payout_id"`
	TeacherID   uint               `json:"teacher_id"`
	Status      model.PayoutStatus `json:"status"`
	AmountCents int64              `json:"amount_cents"`
}

// publishEvent 在事务提交后调用，发布失败只记录日志
func publishEvent(ctx context.Context, pub messaging.Publisher, queue string, payload interface{}) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, queue, payload); err != nil {
		logger.Log.Warn("Failed to publish event", zap.String("queue", queue), zap.Error(err))
	}
}

func attemptCompletedEvent(a *model.Attempt) AttemptCompletedEvent {
	ev := AttemptCompletedEvent{
		AttemptID:       a.ID,
		QuizID:          a.QuizID,
		StudentID:       a.StudentID,
		ScorePercentage: a.ScorePercentage,
		Passed:          a.Passed,
	}
	if a.CompletedAt != nil {
		ev.CompletedAt = *a.CompletedAt
	}
	return ev
}

func publishPayout(ctx context.Context, pub messaging.Publisher, p *model.PayoutRequest) {
	publishEvent(ctx, pub, util.QueuePayoutUpdated, PayoutUpdatedEvent{
		PayoutID:    p.ID,
		TeacherID:   p.TeacherID,
		Status:      p.Status,
		AmountCents: p.AmountCents,
	})
}
