package controller

import (
	"net/http"

	"coursehub_backend/internal/model"
	"coursehub_backend/internal/repository"
	"coursehub_backend/internal/service"
	"coursehub_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	AttemptService *service.AttemptService
}

func NewAttemptController(attemptService *service.AttemptService) *AttemptController {
	return &AttemptController{AttemptService: attemptService}
}

// @Summary 开始答题（有进行中的记录时直接返回）
// @Tags 答题
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 201 {object} util.Response{data=model.Attempt} "新建"
// @Success 200 {object} util.Response{data=model.Attempt} "继续"
// @Router /api/quizzes/{id}/start [post]
func (c *AttemptController) StartAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	attempt, created, err := c.AttemptService.StartAttempt(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	if created {
		util.Created(ctx, attempt)
		return
	}
	ctx.JSON(http.StatusOK, util.Response{Code: http.StatusOK, Message: "resumed", Data: attempt})
}

// @Summary 提交某道题的作答
// @Tags 答题
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param attemptId path string true "答题记录ID"
// @Param questionId path string true "题目ID"
// @Param body body service.SubmitResponseRequest true "作答内容"
// @Success 200 {object} util.Response{data=service.ResponseView}
// @Router /api/attempts/{attemptId}/questions/{questionId}/respond [post]
func (c *AttemptController) SubmitResponse(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.SubmitResponseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	view, err := c.AttemptService.SubmitResponse(ctx.Request.Context(), ctx.Param("attemptId"), ctx.Param("questionId"), user.UserID, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, view)
}

// @Summary 交卷并计算成绩
// @Tags 答题
// @Produce json
// @Security BearerAuth
// @Param attemptId path string true "答题记录ID"
// @Success 200 {object} util.Response{data=service.AttemptView}
// @Router /api/attempts/{attemptId}/complete [post]
func (c *AttemptController) CompleteAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.AttemptService.CompleteAttempt(ctx.Request.Context(), ctx.Param("attemptId"), user.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, view)
}

// @Summary 答题记录详情
// @Tags 答题
// @Produce json
// @Security BearerAuth
// @Param attemptId path string true "答题记录ID"
// @Success 200 {object} util.Response{data=service.AttemptView}
// @Router /api/attempts/{attemptId} [get]
func (c *AttemptController) GetAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.AttemptService.GetAttempt(ctx.Request.Context(), ctx.Param("attemptId"), user.Actor())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, view)
}

// @Summary 我的答题记录
// @Tags 答题
// @Produce json
// @Security BearerAuth
// @Param quizId query string false "测验ID"
// @Success 200 {object} util.Response
// @Router /api/attempts [get]
func (c *AttemptController) ListMyAttempts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	views, err := c.AttemptService.ListStudentAttempts(ctx.Request.Context(), user.UserID, ctx.Query("quizId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, views)
}

// @Summary 教师端：测验的答题记录
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param status query string false "状态"
// @Param student query int false "学生ID"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/teacher/quizzes/{id}/attempts [get]
func (c *AttemptController) ListQuizAttempts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	filter := repository.AttemptFilter{
		Status:    model.AttemptStatus(ctx.Query("status")),
		StudentID: util.MustParseUint(ctx.Query("student")),
	}
	page, limit := util.ParsePage(ctx.Query("page"), ctx.Query("limit"))

	views, total, err := c.AttemptService.ListQuizAttempts(ctx.Request.Context(), ctx.Param("id"), user.Actor(), filter, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: views, Total: total, Page: page, Limit: limit})
}

// @Summary 教师端：主观题评分
// @Tags 测验管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param responseId path string true "作答ID"
// @Param body body service.GradeEssayRequest true "评分"
// @Success 200 {object} util.Response
// @Router /api/teacher/responses/{responseId}/grade [post]
func (c *AttemptController) GradeEssay(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.GradeEssayRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	response, err := c.AttemptService.GradeEssay(ctx.Request.Context(), ctx.Param("responseId"), user.Actor(), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, response)
}
