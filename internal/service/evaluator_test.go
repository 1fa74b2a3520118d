package service

import (
	"fmt"
	"testing"

	"coursehub_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func intPtr(v int) *int { return &v }

func choiceQuestion(t model.QuestionType, points int, correct ...string) *model.Question {
	q := &model.Question{Type: t, Points: points}
	q.ID = "q-" + string(t)
	isCorrect := map[string]bool{}
	for _, id := range correct {
		isCorrect[id] = true
	}
	for i, id := range []string{"a1", "a2", "a3"} {
		a := model.Answer{AnswerText: id, IsCorrect: isCorrect[id], Order: i + 1}
		a.ID = id
		q.Answers = append(q.Answers, a)
	}
	return q
}

func selected(ids ...string) *model.Response {
	return &model.Response{SelectedAnswerIDs: datatypes.NewJSONType(ids)}
}

func TestEvaluate(t *testing.T) {
	textQuestion := func(t model.QuestionType, accepted ...string) *model.Question {
		q := &model.Question{Type: t, Points: 2}
		for _, text := range accepted {
			q.Answers = append(q.Answers, model.Answer{AnswerText: text, IsCorrect: true})
		}
		return q
	}
	ordering := &model.Question{Type: model.Ordering, Points: 3}
	for i, id := range []string{"o1", "o2", "o3"} {
		a := model.Answer{AnswerText: id, MatchOrder: intPtr(3 - i)}
		a.ID = id
		ordering.Answers = append(ordering.Answers, a)
	}
	matching := &model.Question{Type: model.Matching, Points: 4}
	for i, id := range []string{"m1", "m2"} {
		a := model.Answer{AnswerText: id, MatchOrder: intPtr(i + 1)}
		a.ID = id
		matching.Answers = append(matching.Answers, a)
	}

	tests := []struct {
		name        string
		question    *model.Question
		response    *model.Response
		wantCorrect bool
		wantPoints  int
	}{
		{
			name:        "multiple choice exact set",
			question:    choiceQuestion(model.MultipleChoice, 2, "a1", "a3"),
			response:    selected("a3", "a1"),
			wantCorrect: true,
			wantPoints:  2,
		},
		{
			name:     "multiple choice missing one",
			question: choiceQuestion(model.MultipleChoice, 2, "a1", "a3"),
			response: selected("a1"),
		},
		{
			name:     "multiple choice extra selection",
			question: choiceQuestion(model.MultipleChoice, 2, "a1"),
			response: selected("a1", "a2"),
		},
		{
			name:     "multiple choice empty selection",
			question: choiceQuestion(model.MultipleChoice, 2, "a1"),
			response: selected(),
		},
		{
			name:        "true false correct",
			question:    choiceQuestion(model.TrueFalse, 1, "a2"),
			response:    selected("a2"),
			wantCorrect: true,
			wantPoints:  1,
		},
		{
			name:     "true false wrong",
			question: choiceQuestion(model.TrueFalse, 1, "a2"),
			response: selected("a1"),
		},
		{
			name:        "short answer ignores case and whitespace",
			question:    textQuestion(model.ShortAnswer, "Paris"),
			response:    &model.Response{TextResponse: "  paris "},
			wantCorrect: true,
			wantPoints:  2,
		},
		{
			name:        "fill blank any accepted answer",
			question:    textQuestion(model.FillBlank, "goroutine", "go routine"),
			response:    &model.Response{TextResponse: "Go Routine"},
			wantCorrect: true,
			wantPoints:  2,
		},
		{
			name:     "short answer mismatch",
			question: textQuestion(model.ShortAnswer, "Paris"),
			response: &model.Response{TextResponse: "Lyon"},
		},
		{
			name:     "essay never auto-graded",
			question: &model.Question{Type: model.Essay, Points: 5},
			response: &model.Response{TextResponse: "a long answer"},
		},
		{
			name:        "ordering by match order",
			question:    ordering,
			response:    &model.Response{ResponseData: datatypes.JSON(`{"order":["o3","o2","o1"]}`)},
			wantCorrect: true,
			wantPoints:  3,
		},
		{
			name:     "ordering wrong sequence",
			question: ordering,
			response: &model.Response{ResponseData: datatypes.JSON(`{"order":["o1","o2","o3"]}`)},
		},
		{
			name:        "matching exact pairs",
			question:    matching,
			response:    &model.Response{ResponseData: datatypes.JSON(`{"m1":1,"m2":2}`)},
			wantCorrect: true,
			wantPoints:  4,
		},
		{
			name:     "matching swapped pairs",
			question: matching,
			response: &model.Response{ResponseData: datatypes.JSON(`{"m1":2,"m2":1}`)},
		},
		{
			name:     "matching missing data",
			question: matching,
			response: &model.Response{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correct, points := Evaluate(tt.question, tt.response)
			assert.Equal(t, tt.wantCorrect, correct)
			assert.Equal(t, tt.wantPoints, points)

			// 重复判分结果一致
			again, againPoints := Evaluate(tt.question, tt.response)
			assert.Equal(t, correct, again)
			assert.Equal(t, points, againPoints)
		})
	}
}

func TestCalculateScore(t *testing.T) {
	questions := map[string]*model.Question{
		"q1": {Points: 1},
		"q2": {Points: 1},
		"q3": {Points: 1},
	}
	for id, q := range questions {
		q.ID = id
	}
	resp := func(questionID string, points int) model.Response {
		return model.Response{QuestionID: questionID, PointsEarned: points}
	}

	tests := []struct {
		name         string
		responses    []model.Response
		passingScore int
		want         Score
	}{
		{
			name:         "no responses",
			passingScore: 0,
			want:         Score{},
		},
		{
			name:         "two of three passes at sixty",
			responses:    []model.Response{resp("q1", 1), resp("q2", 1), resp("q3", 0)},
			passingScore: 60,
			want:         Score{EarnedPoints: 2, TotalPoints: 3, Percentage: 200.0 / 3, Passed: true},
		},
		{
			name:         "two of three fails at seventy",
			responses:    []model.Response{resp("q1", 1), resp("q2", 1), resp("q3", 0)},
			passingScore: 70,
			want:         Score{EarnedPoints: 2, TotalPoints: 3, Percentage: 200.0 / 3, Passed: false},
		},
		{
			name:         "only answered questions count",
			responses:    []model.Response{resp("q1", 1)},
			passingScore: 100,
			want:         Score{EarnedPoints: 1, TotalPoints: 1, Percentage: 100, Passed: true},
		},
		{
			name:         "unknown question ignored",
			responses:    []model.Response{resp("gone", 5), resp("q1", 0)},
			passingScore: 50,
			want:         Score{EarnedPoints: 0, TotalPoints: 1, Percentage: 0, Passed: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateScore(tt.responses, questions, tt.passingScore)
			assert.Equal(t, tt.want.EarnedPoints, got.EarnedPoints)
			assert.Equal(t, tt.want.TotalPoints, got.TotalPoints)
			assert.InDelta(t, tt.want.Percentage, got.Percentage, 1e-9)
			assert.Equal(t, tt.want.Passed, got.Passed)
		})
	}
}

func TestCalculateScoreRawPercentageBoundary(t *testing.T) {
	// 69.999...% 不能因为四舍五入而通过 70 分线
	questions := map[string]*model.Question{}
	var responses []model.Response
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("q%d", i)
		questions[id] = &model.Question{Points: 1}
		earned := 0
		if i < 6999 {
			earned = 1
		}
		responses = append(responses, model.Response{QuestionID: id, PointsEarned: earned})
	}

	got := CalculateScore(responses, questions, 70)
	assert.Equal(t, 10000, got.TotalPoints)
	assert.InDelta(t, 69.99, got.Percentage, 1e-9)
	assert.False(t, got.Passed)
}
