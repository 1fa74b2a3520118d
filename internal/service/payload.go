package service

import (
	"encoding/json"
	"strings"

	"coursehub_backend/internal/model"
	"coursehub_backend/internal/util"

	"github.com/xeipuuv/gojsonschema"
)

// SubmitResponseRequest 学生对单题的作答；按题型只需要其中一种字段
type SubmitResponseRequest struct {
	SelectedAnswerIDs []string        `json:"selectedAnswerIds"`
	TextResponse      *string         `json:"textResponse"`
	ResponseData      json.RawMessage `json:"responseData"`
	TimeSpentSeconds  int             `json:"timeSpentSeconds" validate:"gte=0"`
}

const choiceSchema = `{
	"type": "object",
	"required": ["selected_answer_ids"],
	"properties": {
		"selected_answer_ids": {
			"type": "array",
			"uniqueItems": true,
			"items": {"type": "string", "format": "uuid"}
		}
	}
}`

const trueFalseSchema = `{
	"type": "object",
	"required": ["selected_answer_ids"],
	"properties": {
		"selected_answer_ids": {
			"type": "array",
			"minItems": 1,
			"maxItems": 1,
			"items": {"type": "string", "format": "uuid"}
		}
	}
}`

const textSchema = `{
	"type": "object",
	"required": ["text_response"],
	"properties": {
		"text_response": {"type": "string", "maxLength": 20000}
	}
}`

const matchingSchema = `{
	"type": "object",
	"required": ["response_data"],
	"properties": {
		"response_data": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {"type": "integer"}
		}
	}
}`

const orderingSchema = `{
	"type": "object",
	"required": ["response_data"],
	"properties": {
		"response_data": {
			"type": "object",
			"required": ["order"],
			"properties": {
				"order": {
					"type": "array",
					"minItems": 1,
					"uniqueItems": true,
					"items": {"type": "string", "format": "uuid"}
				}
			}
		}
	}
}`

var payloadSchemas = mustCompileSchemas(map[model.QuestionType]string{
	model.MultipleChoice: choiceSchema,
	model.TrueFalse:      trueFalseSchema,
	model.ShortAnswer:    textSchema,
	model.FillBlank:      textSchema,
	model.Essay:          textSchema,
	model.Matching:       matchingSchema,
	model.Ordering:       orderingSchema,
})

func mustCompileSchemas(src map[model.QuestionType]string) map[model.QuestionType]*gojsonschema.Schema {
	out := make(map[model.QuestionType]*gojsonschema.Schema, len(src))
	for t, s := range src {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
		if err != nil {
			panic("invalid payload schema for " + string(t) + ": " + err.Error())
		}
		out[t] = schema
	}
	return out
}

// payloadDocument 只放入请求中实际出现的字段，便于 required 校验
func payloadDocument(req SubmitResponseRequest) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	if req.SelectedAnswerIDs != nil {
		ids := make([]interface{}, len(req.SelectedAnswerIDs))
		for i, id := range req.SelectedAnswerIDs {
			ids[i] = id
		}
		doc["selected_answer_ids"] = ids
	}
	if req.TextResponse != nil {
		doc["text_response"] = *req.TextResponse
	}
	if len(req.ResponseData) > 0 && string(req.ResponseData) != "null" {
		var data interface{}
		if err := json.Unmarshal(req.ResponseData, &data); err != nil {
			return nil, util.ValidationError("responseData is not valid JSON")
		}
		doc["response_data"] = data
	}
	return doc, nil
}

// ValidatePayload 校验作答结构，并确认引用的答案都属于该题
func ValidatePayload(q *model.Question, req SubmitResponseRequest) error {
	schema, ok := payloadSchemas[q.Type]
	if !ok {
		return util.ValidationError("unsupported question type %q", q.Type)
	}

	doc, err := payloadDocument(req)
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return util.ValidationError("invalid response payload: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return util.ValidationError("invalid response payload: %s", strings.Join(msgs, "; "))
	}

	owned := make(map[string]bool, len(q.Answers))
	for _, a := range q.Answers {
		owned[a.ID] = true
	}
	for _, id := range referencedAnswerIDs(q.Type, req) {
		if !owned[id] {
			return util.ValidationError("answer %s does not belong to question %s", id, q.ID)
		}
	}
	return nil
}

func referencedAnswerIDs(t model.QuestionType, req SubmitResponseRequest) []string {
	switch t {
	case model.MultipleChoice, model.TrueFalse:
		return req.SelectedAnswerIDs
	case model.Matching:
		var m map[string]json.RawMessage
		if err := json.Unmarshal(req.ResponseData, &m); err != nil {
			return nil
		}
		ids := make([]string, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		return ids
	case model.Ordering:
		var o orderingData
		if err := json.Unmarshal(req.ResponseData, &o); err != nil {
			return nil
		}
		return o.Order
	}
	return nil
}
