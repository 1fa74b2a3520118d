package controller

import (
	"coursehub_backend/internal/service"
	"coursehub_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type QuizController struct {
	QuizService *service.QuizService
}

func NewQuizController(quizService *service.QuizService) *QuizController {
	return &QuizController{QuizService: quizService}
}

// @Summary 创建测验
// @Tags 测验管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.QuizRequest true "测验信息"
// @Success 201 {object} util.Response
// @Router /api/teacher/quizzes [post]
func (c *QuizController) CreateQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.QuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	quiz, err := c.QuizService.CreateQuiz(ctx.Request.Context(), user.Actor(), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Created(ctx, quiz)
}

// @Summary 教师端：测验列表
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param courseId query string false "课程ID"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/teacher/quizzes [get]
func (c *QuizController) ListTeacherQuizzes(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, limit := util.ParsePage(ctx.Query("page"), ctx.Query("limit"))
	quizzes, total, err := c.QuizService.ListTeacherQuizzes(ctx.Request.Context(), user.Actor(), ctx.Query("courseId"), page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: quizzes, Total: total, Page: page, Limit: limit})
}

// @Summary 教师端：测验详情（含题目和答案）
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id} [get]
func (c *QuizController) GetQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	quiz, err := c.QuizService.GetQuiz(ctx.Request.Context(), user.Actor(), ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, quiz)
}

// @Summary 更新测验
// @Tags 测验管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param body body service.QuizRequest true "测验信息"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id} [put]
func (c *QuizController) UpdateQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.QuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	quiz, err := c.QuizService.UpdateQuiz(ctx.Request.Context(), user.Actor(), ctx.Param("id"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, quiz)
}

// @Summary 删除测验
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id} [delete]
func (c *QuizController) DeleteQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.QuizService.DeleteQuiz(ctx.Request.Context(), user.Actor(), ctx.Param("id")); err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, nil)
}

// @Summary 添加题目
// @Tags 测验管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param body body service.QuestionRequest true "题目信息"
// @Success 201 {object} util.Response
// @Router /api/teacher/quizzes/{id}/questions [post]
func (c *QuizController) AddQuestion(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	question, err := c.QuizService.AddQuestion(ctx.Request.Context(), user.Actor(), ctx.Param("id"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Created(ctx, question)
}

// @Summary 更新题目（答案整体替换）
// @Tags 测验管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param questionId path string true "题目ID"
// @Param body body service.QuestionRequest true "题目信息"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id}/questions/{questionId} [put]
func (c *QuizController) UpdateQuestion(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	question, err := c.QuizService.UpdateQuestion(ctx.Request.Context(), user.Actor(), ctx.Param("id"), ctx.Param("questionId"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, question)
}

// @Summary 删除题目
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param questionId path string true "题目ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id}/questions/{questionId} [delete]
func (c *QuizController) DeleteQuestion(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.QuizService.DeleteQuestion(ctx.Request.Context(), user.Actor(), ctx.Param("id"), ctx.Param("questionId")); err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, nil)
}

// @Summary 学生端：已选课程的测验列表
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/quizzes [get]
func (c *QuizController) ListStudentQuizzes(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, limit := util.ParsePage(ctx.Query("page"), ctx.Query("limit"))
	quizzes, total, err := c.QuizService.ListStudentQuizzes(ctx.Request.Context(), user.UserID, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: quizzes, Total: total, Page: page, Limit: limit})
}

// @Summary 学生端：测验详情（不含正确答案）
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response{data=service.StudentQuizView}
// @Router /api/quizzes/{id} [get]
func (c *QuizController) GetStudentQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.QuizService.GetStudentQuiz(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, view)
}
