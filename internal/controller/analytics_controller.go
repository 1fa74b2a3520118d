package controller

import (
	"coursehub_backend/internal/service"
	"coursehub_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AnalyticsController struct {
	AnalyticsService *service.AnalyticsService
}

func NewAnalyticsController(analyticsService *service.AnalyticsService) *AnalyticsController {
	return &AnalyticsController{AnalyticsService: analyticsService}
}

// @Summary 测验统计
// @Description 默认读取缓存结果，refresh=true 时强制重新计算
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param refresh query bool false "强制刷新"
// @Success 200 {object} util.Response{data=model.QuizAnalytics}
// @Router /api/teacher/quizzes/{id}/analytics [get]
func (c *AnalyticsController) GetQuizAnalytics(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	force := ctx.Query("refresh") == "true"
	analytics, err := c.AnalyticsService.GetAnalytics(ctx.Request.Context(), ctx.Param("id"), user.Actor(), force)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, analytics)
}

// @Summary 课程测验概览
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response{data=[]model.QuizSummary}
// @Router /api/teacher/courses/{courseId}/quiz-summary [get]
func (c *AnalyticsController) GetCourseQuizSummary(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	summary, err := c.AnalyticsService.CourseQuizSummary(ctx.Request.Context(), ctx.Param("courseId"), user.Actor())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, summary)
}
