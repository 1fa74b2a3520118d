package service

import (
	"encoding/json"
	"sort"
	"strings"

	"coursehub_backend/internal/model"
)

// Evaluate 按题型判分。每次都从头计算，重复提交结果一致
func Evaluate(q *model.Question, resp *model.Response) (bool, int) {
	var correct bool

	switch q.Type {
	case model.MultipleChoice:
		correct = sameSet(correctAnswerIDs(q), resp.SelectedAnswerIDs.Data())

	case model.TrueFalse:
		selected := resp.SelectedAnswerIDs.Data()
		ids := correctAnswerIDs(q)
		correct = len(selected) == 1 && len(ids) > 0 && selected[0] == ids[0]

	case model.ShortAnswer, model.FillBlank:
		given := strings.TrimSpace(resp.TextResponse)
		for _, a := range q.Answers {
			if a.IsCorrect && strings.EqualFold(strings.TrimSpace(a.AnswerText), given) {
				correct = true
				break
			}
		}

	case model.Essay:
		// 人工批改
		correct = false

	case model.Matching:
		correct = matchesExactly(q.Answers, resp.ResponseData)

	case model.Ordering:
		correct = orderMatches(q.Answers, resp.ResponseData)
	}

	if correct {
		return true, q.Points
	}
	return false, 0
}

func correctAnswerIDs(q *model.Question) []string {
	var ids []string
	for _, a := range q.Answers {
		if a.IsCorrect {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func sameSet(a, b []string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, id := range a {
		setA[id] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, id := range b {
		setB[id] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for id := range setB {
		if _, ok := setA[id]; !ok {
			return false
		}
	}
	return true
}

// matchesExactly 提交的 answer_id -> match_order 映射必须与标准完全相同
func matchesExactly(answers []model.Answer, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	var given map[string]float64
	if err := json.Unmarshal(data, &given); err != nil {
		return false
	}
	if len(given) != len(answers) {
		return false
	}
	for _, a := range answers {
		v, ok := given[a.ID]
		if !ok || a.MatchOrder == nil || v != float64(*a.MatchOrder) {
			return false
		}
	}
	return true
}

type orderingData struct {
	Order []string `json:"order"`
}

func orderMatches(answers []model.Answer, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	var given orderingData
	if err := json.Unmarshal(data, &given); err != nil {
		return false
	}
	expected := expectedOrder(answers)
	if len(given.Order) != len(expected) {
		return false
	}
	for i := range expected {
		if given.Order[i] != expected[i] {
			return false
		}
	}
	return true
}

// expectedOrder 按 match_order 排序后的答案 id
func expectedOrder(answers []model.Answer) []string {
	sorted := make([]model.Answer, len(answers))
	copy(sorted, answers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return matchOrder(sorted[i]) < matchOrder(sorted[j])
	})
	ids := make([]string, len(sorted))
	for i, a := range sorted {
		ids[i] = a.ID
	}
	return ids
}

func matchOrder(a model.Answer) int {
	if a.MatchOrder == nil {
		return 0
	}
	return *a.MatchOrder
}

// Score 答题得分汇总
type Score struct {
	EarnedPoints int
	TotalPoints  int
	Percentage   float64
	Passed       bool
}

// CalculateScore 对作答做纯折叠：得分除以已作答题目总分
func CalculateScore(responses []model.Response, questions map[string]*model.Question, passingScore int) Score {
	var s Score
	for i := range responses {
		q, ok := questions[responses[i].QuestionID]
		if !ok {
			continue
		}
		s.TotalPoints += q.Points
		s.EarnedPoints += responses[i].PointsEarned
	}
	if s.TotalPoints == 0 {
		return s
	}
	s.Percentage = float64(s.EarnedPoints) / float64(s.TotalPoints) * 100
	// 严格比较原始百分比，不做四舍五入
	s.Passed = s.Percentage >= float64(passingScore)
	return s
}
