package app

import (
	"coursehub_backend/internal/config"
	"coursehub_backend/internal/middleware"
	"coursehub_backend/internal/model"
	"coursehub_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerTeacherRoutes(authGroup, c)
		a.registerAdminRoutes(authGroup, c)
	}
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers) {
	// 答题记录：学生看自己的，教师看自己课程的
	group.GET("/attempts", c.attempt.ListMyAttempts)
	group.GET("/attempts/:attemptId", c.attempt.GetAttempt)

	student := group.Group("")
	student.Use(middleware.RoleMiddleware(model.Student))
	{
		student.GET("/quizzes", c.quiz.ListStudentQuizzes)
		student.GET("/quizzes/:id", c.quiz.GetStudentQuiz)
		student.POST("/quizzes/:id/start", c.attempt.StartAttempt)
		student.POST("/attempts/:attemptId/questions/:questionId/respond", c.attempt.SubmitResponse)
		student.POST("/attempts/:attemptId/complete", c.attempt.CompleteAttempt)
	}
}

func (a *App) registerTeacherRoutes(group *gin.RouterGroup, c *controllers) {
	teacher := group.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		// 测验管理
		teacher.POST("/quizzes", c.quiz.CreateQuiz)
		teacher.GET("/quizzes", c.quiz.ListTeacherQuizzes)
		teacher.GET("/quizzes/:id", c.quiz.GetQuiz)
		teacher.PUT("/quizzes/:id", c.quiz.UpdateQuiz)
		teacher.DELETE("/quizzes/:id", c.quiz.DeleteQuiz)
		teacher.POST("/quizzes/:id/questions", c.quiz.AddQuestion)
		teacher.PUT("/quizzes/:id/questions/:questionId", c.quiz.UpdateQuestion)
		teacher.DELETE("/quizzes/:id/questions/:questionId", c.quiz.DeleteQuestion)

		// 统计与评分
		teacher.GET("/quizzes/:id/analytics", c.analytics.GetQuizAnalytics)
		teacher.GET("/quizzes/:id/attempts", c.attempt.ListQuizAttempts)
		teacher.POST("/responses/:responseId/grade", c.attempt.GradeEssay)
		teacher.GET("/courses/:courseId/quiz-summary", c.analytics.GetCourseQuizSummary)

		// 收益与打款
		teacher.GET("/earnings", c.earnings.GetDashboard)
		teacher.GET("/earnings/transactions", c.earnings.ListTransactions)
		teacher.PUT("/payout-account", c.earnings.UpsertPayoutAccount)
		teacher.GET("/payouts", c.earnings.ListPayouts)
		teacher.POST("/payouts", c.earnings.RequestPayout)
		teacher.POST("/payouts/:id/cancel", c.earnings.CancelPayout)
	}
}

func (a *App) registerAdminRoutes(group *gin.RouterGroup, c *controllers) {
	admin := group.Group("/admin")
	admin.Use(middleware.RoleMiddleware(model.Admin))
	{
		admin.POST("/sales", c.earnings.RecordSale)
		admin.POST("/sales/:paymentRef/refund", c.earnings.RecordRefund)
		admin.PUT("/payouts/:id", c.earnings.ProcessPayout)
		admin.POST("/payout-accounts/:teacherId/verify", c.earnings.VerifyPayoutAccount)
	}
}
