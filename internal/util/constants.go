package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

// 消息队列
const (
	QueueAttemptCompleted = "quiz.attempt.completed"
	QueuePayoutUpdated    = "earnings.payout.updated"
)

// 缓存 key
const (
	AnalyticsCacheKeyPrefix = "quiz:analytics:"
)
