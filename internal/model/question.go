package model

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	Essay          QuestionType = "essay"
	FillBlank      QuestionType = "fill_blank"
	Matching       QuestionType = "matching"
	Ordering       QuestionType = "ordering"
)

func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, TrueFalse, ShortAnswer, Essay, FillBlank, Matching, Ordering:
		return true
	}
	return false
}

// UsesChoices 需要从答案选项中选择的题型
func (t QuestionType) UsesChoices() bool {
	return t == MultipleChoice || t == TrueFalse
}

func (t QuestionType) UsesText() bool {
	return t == ShortAnswer || t == FillBlank || t == Essay
}

// UsesMatchOrder 依赖 match_order 的题型
func (t QuestionType) UsesMatchOrder() bool {
	return t == Matching || t == Ordering
}

// swagger:model Question
type Question struct {
	UUIDBase
	QuizID       string       `gorm:"size:36;not null;uniqueIndex:idx_question_quiz_order" json:"quizId"`
	Type         QuestionType `gorm:"size:30;not null" json:"type"`
	QuestionText string       `gorm:"type:text;not null" json:"questionText"`
	Explanation  string       `gorm:"type:text" json:"explanation,omitempty"`
	Points       int          `gorm:"not null" json:"points"`
	Order        int          `gorm:"column:sort_order;not null;uniqueIndex:idx_question_quiz_order" json:"order"`
	IsRequired   bool         `gorm:"not null" json:"isRequired"`
	Answers      []Answer     `gorm:"foreignKey:QuestionID" json:"answers,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// swagger:model Answer
type Answer struct {
	UUIDBase
	QuestionID string `gorm:"size:36;not null;uniqueIndex:idx_answer_question_order" json:"questionId"`
	AnswerText string `gorm:"type:text;not null" json:"answerText"`
	IsCorrect  bool   `gorm:"not null" json:"isCorrect"`
	MatchOrder *int   `json:"matchOrder,omitempty"`
	Order      int    `gorm:"column:sort_order;not null;uniqueIndex:idx_answer_question_order" json:"order"`
}

func (Answer) TableName() string {
	return "answers"
}
