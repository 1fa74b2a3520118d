package controller

import (
	"coursehub_backend/internal/model"
	"coursehub_backend/internal/service"
	"coursehub_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type EarningsController struct {
	EarningsService *service.EarningsService
}

func NewEarningsController(earningsService *service.EarningsService) *EarningsController {
	return &EarningsController{EarningsService: earningsService}
}

// @Summary 教师收益概览
// @Tags 教师收益
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.EarningsDashboard}
// @Router /api/teacher/earnings [get]
func (c *EarningsController) GetDashboard(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	dashboard, err := c.EarningsService.Dashboard(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, dashboard)
}

// @Summary 收益流水
// @Tags 教师收益
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/teacher/earnings/transactions [get]
func (c *EarningsController) ListTransactions(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, limit := util.ParsePage(ctx.Query("page"), ctx.Query("limit"))
	txs, total, err := c.EarningsService.ListTransactions(ctx.Request.Context(), user.UserID, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: txs, Total: total, Page: page, Limit: limit})
}

// @Summary 设置收款账户
// @Tags 教师收益
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.PayoutAccountRequest true "账户信息"
// @Success 200 {object} util.Response{data=model.PayoutAccount}
// @Router /api/teacher/payout-account [put]
func (c *EarningsController) UpsertPayoutAccount(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.PayoutAccountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	account, err := c.EarningsService.UpsertPayoutAccount(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, account)
}

// @Summary 打款申请列表
// @Tags 教师收益
// @Produce json
// @Security BearerAuth
// @Param status query string false "状态"
// @Success 200 {object} util.Response{data=[]model.PayoutRequest}
// @Router /api/teacher/payouts [get]
func (c *EarningsController) ListPayouts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	payouts, err := c.EarningsService.ListPayouts(ctx.Request.Context(), user.UserID, model.PayoutStatus(ctx.Query("status")))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, payouts)
}

type payoutRequestBody struct {
	AmountCents int64 `json:"amountCents" binding:"required"`
}

// @Summary 申请打款
// @Tags 教师收益
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body payoutRequestBody true "金额（分）"
// @Success 201 {object} util.Response{data=model.PayoutRequest}
// @Router /api/teacher/payouts [post]
func (c *EarningsController) RequestPayout(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var body payoutRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	payout, err := c.EarningsService.RequestPayout(ctx.Request.Context(), user.UserID, body.AmountCents)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Created(ctx, payout)
}

// @Summary 撤回打款申请
// @Tags 教师收益
// @Produce json
// @Security BearerAuth
// @Param id path string true "打款申请ID"
// @Success 200 {object} util.Response{data=model.PayoutRequest}
// @Router /api/teacher/payouts/{id}/cancel [post]
func (c *EarningsController) CancelPayout(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	payout, err := c.EarningsService.CancelPayout(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, payout)
}

// @Summary 管理员：记录销售（支付回调）
// @Tags 管理后台
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.SaleInput true "销售信息"
// @Success 200 {object} util.Response{data=model.Sale}
// @Router /api/admin/sales [post]
func (c *EarningsController) RecordSale(ctx *gin.Context) {
	var in service.SaleInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	sale, err := c.EarningsService.RecordSale(ctx.Request.Context(), in)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, sale)
}

type refundRequestBody struct {
	// 0 表示退还剩余全部金额
	AmountCents int64  `json:"amountCents"`
	Reason      string `json:"reason"`
}

// @Summary 管理员：记录退款
// @Tags 管理后台
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param paymentRef path string true "支付流水号"
// @Param body body refundRequestBody true "退款信息"
// @Success 200 {object} util.Response{data=model.Sale}
// @Router /api/admin/sales/{paymentRef}/refund [post]
func (c *EarningsController) RecordRefund(ctx *gin.Context) {
	var body refundRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	sale, err := c.EarningsService.RecordRefund(ctx.Request.Context(), ctx.Param("paymentRef"), body.AmountCents, body.Reason)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, sale)
}

// @Summary 管理员：处理打款申请
// @Tags 管理后台
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "打款申请ID"
// @Param body body service.ProcessPayoutRequest true "处理结果"
// @Success 200 {object} util.Response{data=model.PayoutRequest}
// @Router /api/admin/payouts/{id} [put]
func (c *EarningsController) ProcessPayout(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.ProcessPayoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	payout, err := c.EarningsService.ProcessPayout(ctx.Request.Context(), user.Actor(), ctx.Param("id"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, payout)
}

// @Summary 管理员：审核收款账户
// @Tags 管理后台
// @Produce json
// @Security BearerAuth
// @Param teacherId path int true "教师ID"
// @Success 200 {object} util.Response{data=model.PayoutAccount}
// @Router /api/admin/payout-accounts/{teacherId}/verify [post]
func (c *EarningsController) VerifyPayoutAccount(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	teacherID := util.MustParseUint(ctx.Param("teacherId"))
	if teacherID == 0 {
		util.BadRequest(ctx, "invalid teacher id")
		return
	}

	account, err := c.EarningsService.VerifyPayoutAccount(ctx.Request.Context(), user.Actor(), teacherID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, account)
}
