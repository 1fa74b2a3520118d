package service

import (
	"context"
	"errors"
	"sync"

	"coursehub_backend/internal/config"
	"coursehub_backend/internal/model"
	"coursehub_backend/internal/repository"
	"coursehub_backend/internal/util"
	"coursehub_backend/pkg/logger"
	"coursehub_backend/pkg/messaging"
	"coursehub_backend/pkg/monitoring"
	"coursehub_backend/pkg/tracing"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EarningsService struct {
	DB           *gorm.DB
	EarningsRepo *repository.EarningsRepository
	CourseRepo   *repository.CourseRepository
	Publisher    messaging.Publisher
	Now          Clock

	mu  sync.RWMutex
	cfg config.LedgerConfig
}

func NewEarningsService(
	earningsRepo *repository.EarningsRepository,
	courseRepo *repository.CourseRepository,
	publisher messaging.Publisher,
	cfg config.LedgerConfig,
	db *gorm.DB,
) *EarningsService {
	return &EarningsService{
		DB:           db,
		EarningsRepo: earningsRepo,
		CourseRepo:   courseRepo,
		Publisher:    publisher,
		cfg:          cfg,
	}
}

func (s *EarningsService) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg.Ledger
	s.mu.Unlock()
}

func (s *EarningsService) ledger() config.LedgerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SaleInput 支付网关回调中已结算的一笔课程购买
type SaleInput struct {
	PaymentRef string `json:"paymentRef" validate:"required,max=100"`
	CourseID   string `json:"courseId" validate:"required"`
	StudentID  uint   `json:"studentId" validate:"required"`
	GrossCents int64  `json:"grossCents" validate:"gt=0"`
}

// RecordSale 记录销售并入账，payment_ref 重复时直接返回已有记录
func (s *EarningsService) RecordSale(ctx context.Context, in SaleInput) (*model.Sale, error) {
	ctx, span := tracing.Tracer.Start(ctx, "EarningsService.RecordSale")
	defer span.End()

	if err := validateStruct(in); err != nil {
		return nil, err
	}

	cfg := s.ledger()
	for attempt := 0; ; attempt++ {
		sale, replay, err := s.recordSale(ctx, in, cfg.CommissionBPS)
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < cfg.ProvisionRetries {
			// 并发回调或并发开户，重试后会走到幂等分支
			logger.Log.Debug("Sale provisioning conflict, retrying",
				zap.String("payment_ref", in.PaymentRef),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		if replay {
			logger.Log.Info("Sale already recorded", zap.String("payment_ref", in.PaymentRef))
		} else {
			logger.Log.Info("Sale recorded",
				zap.String("payment_ref", sale.PaymentRef),
				zap.Uint("teacher_id", sale.TeacherID),
				zap.Int64("gross_cents", sale.GrossCents),
				zap.Int64("net_cents", sale.NetCents),
			)
		}
		return sale, nil
	}
}

func (s *EarningsService) recordSale(ctx context.Context, in SaleInput, bps int64) (*model.Sale, bool, error) {
	var sale *model.Sale
	replay := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.EarningsRepo.WithTx(tx)
		courses := s.CourseRepo.WithTx(tx)

		existing, err := repo.FindSaleByRef(ctx, in.PaymentRef)
		if err == nil {
			sale, replay = existing, true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		course, err := courses.FindByID(ctx, in.CourseID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrCourseNotFound
			}
			return err
		}

		if err := repo.EnsureEarnings(ctx, course.InstructorID, bps); err != nil {
			return err
		}

		commission, net := model.SplitCommission(in.GrossCents, bps)
		sale = &model.Sale{
			PaymentRef:    in.PaymentRef,
			CourseID:      course.ID,
			StudentID:     in.StudentID,
			TeacherID:     course.InstructorID,
			GrossCents:    in.GrossCents,
			CommissionBPS: bps,
			NetCents:      net,
			Status:        model.SaleCompleted,
		}
		if err := repo.CreateSale(ctx, sale); err != nil {
			return err
		}

		if err := repo.CreateTransaction(ctx, &model.EarningTransaction{
			TeacherID:       course.InstructorID,
			CourseID:        course.ID,
			SaleID:          sale.ID,
			Kind:            model.EarningSale,
			GrossCents:      in.GrossCents,
			CommissionBPS:   bps,
			CommissionCents: commission,
			NetCents:        net,
		}); err != nil {
			return err
		}

		if err := repo.AddEarnings(ctx, course.InstructorID, in.GrossCents, net); err != nil {
			return err
		}

		return courses.UpsertEnrollment(ctx, in.StudentID, course.ID, model.EnrollmentActive, in.PaymentRef, s.Now.now())
	})
	if err != nil {
		return nil, false, err
	}
	return sale, replay, nil
}

// roundDiv 计算 a*b/c 并四舍五入
func roundDiv(a, b, c int64) int64 {
	return (a*b + c/2) / c
}

// RecordRefund 按比例冲回教师净收益，amountCents 为 0 表示退还剩余全部金额
func (s *EarningsService) RecordRefund(ctx context.Context, paymentRef string, amountCents int64, reason string) (*model.Sale, error) {
	ctx, span := tracing.Tracer.Start(ctx, "EarningsService.RecordRefund")
	defer span.End()

	if amountCents < 0 {
		return nil, util.ValidationError("refund amount must not be negative")
	}

	var sale *model.Sale
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.EarningsRepo.WithTx(tx)

		found, err := repo.FindSaleByRef(ctx, paymentRef)
		if err != nil {
			return util.NotFoundOr(err, "sale")
		}
		sale = found

		remaining := sale.GrossCents - sale.RefundedCents
		if remaining <= 0 {
			return util.InvalidStateError("sale has already been fully refunded")
		}
		amount := amountCents
		if amount == 0 {
			amount = remaining
		}
		if amount > remaining {
			return util.ValidationError("refund amount %d exceeds refundable remainder %d", amount, remaining)
		}

		// 按累计退款额计算，最终全额退款时净收益正好冲回到 0
		before := sale.RefundedCents
		after := before + amount
		netDelta := roundDiv(sale.NetCents, after, sale.GrossCents) - roundDiv(sale.NetCents, before, sale.GrossCents)
		commissionDelta := amount - netDelta

		now := s.Now.now()
		sale.RefundedCents = after
		sale.RefundReason = reason
		sale.RefundedAt = &now
		if after == sale.GrossCents {
			sale.Status = model.SaleRefunded
		} else {
			sale.Status = model.SalePartiallyRefunded
		}
		if err := repo.UpdateSale(ctx, sale); err != nil {
			return err
		}

		if err := repo.CreateTransaction(ctx, &model.EarningTransaction{
			TeacherID:       sale.TeacherID,
			CourseID:        sale.CourseID,
			SaleID:          sale.ID,
			Kind:            model.EarningRefund,
			GrossCents:      -amount,
			CommissionBPS:   sale.CommissionBPS,
			CommissionCents: -commissionDelta,
			NetCents:        -netDelta,
		}); err != nil {
			return err
		}

		if err := repo.AddEarnings(ctx, sale.TeacherID, -amount, -netDelta); err != nil {
			return err
		}

		if sale.Status == model.SaleRefunded {
			return s.CourseRepo.WithTx(tx).UpdateEnrollmentStatus(ctx, sale.StudentID, sale.CourseID, model.EnrollmentDropped)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Refund recorded",
		zap.String("payment_ref", paymentRef),
		zap.Uint("teacher_id", sale.TeacherID),
		zap.Int64("refunded_cents", sale.RefundedCents),
		zap.String("status", string(sale.Status)),
	)
	return sale, nil
}

// RequestPayout 预留余额并创建打款申请
func (s *EarningsService) RequestPayout(ctx context.Context, teacherID uint, amountCents int64) (*model.PayoutRequest, error) {
	ctx, span := tracing.Tracer.Start(ctx, "EarningsService.RequestPayout")
	defer span.End()

	cfg := s.ledger()
	if amountCents < cfg.MinPayoutCents {
		return nil, util.ValidationError("minimum payout amount is %d cents", cfg.MinPayoutCents)
	}

	var payout *model.PayoutRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.EarningsRepo.WithTx(tx)

		account, err := repo.FindAccount(ctx, teacherID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if account == nil || !account.IsVerified {
			return util.ValidationError("a verified payout account is required")
		}

		ok, err := repo.ReserveBalance(ctx, teacherID, amountCents)
		if err != nil {
			return err
		}
		if !ok {
			return util.ValidationError("insufficient balance")
		}

		payout = &model.PayoutRequest{
			TeacherID:       teacherID,
			AmountCents:     amountCents,
			Status:          model.PayoutRequested,
			PayoutAccountID: account.ID,
		}
		return repo.CreatePayout(ctx, payout)
	})
	if err != nil {
		return nil, err
	}

	monitoring.PayoutRequests.WithLabelValues(string(payout.Status)).Inc()
	publishPayout(ctx, s.Publisher, payout)
	logger.Log.Info("Payout requested",
		zap.String("payout_id", payout.ID),
		zap.Uint("teacher_id", teacherID),
		zap.Int64("amount_cents", amountCents),
	)
	return payout, nil
}

// CancelPayout 教师撤回未完成的打款申请，预留金额退回余额
func (s *EarningsService) CancelPayout(ctx context.Context, teacherID uint, payoutID string) (*model.PayoutRequest, error) {
	ctx, span := tracing.Tracer.Start(ctx, "EarningsService.CancelPayout")
	defer span.End()

	var payout *model.PayoutRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.EarningsRepo.WithTx(tx)

		p, err := repo.FindPayout(ctx, payoutID)
		if err != nil {
			return util.NotFoundOr(err, "payout")
		}
		if p.TeacherID != teacherID {
			return util.ErrPermissionDenied
		}
		if !p.Status.Open() {
			return util.InvalidStateError("payout in status %s cannot be cancelled", p.Status)
		}

		ok, err := repo.TransitionPayout(ctx, p.ID,
			[]model.PayoutStatus{model.PayoutRequested, model.PayoutProcessing},
			map[string]interface{}{"status": model.PayoutCancelled},
		)
		if err != nil {
			return err
		}
		if !ok {
			return util.InvalidStateError("payout was changed concurrently")
		}
		if err := repo.ReleaseBalance(ctx, teacherID, p.AmountCents); err != nil {
			return err
		}

		p.Status = model.PayoutCancelled
		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.PayoutRequests.WithLabelValues(string(payout.Status)).Inc()
	publishPayout(ctx, s.Publisher, payout)
	return payout, nil
}

type ProcessPayoutRequest struct {
	Status                model.PayoutStatus `json:"status" validate:"required,oneof=processing paid failed"`
	ExternalTransactionID string             `json:"externalTransactionId" validate:"max=100"`
	FailureReason         string             `json:"failureReason"`
	AdminNotes            string             `json:"adminNotes"`
}

// payoutSources 目标状态允许的来源状态
var payoutSources = map[model.PayoutStatus][]model.PayoutStatus{
	model.PayoutProcessing: {model.PayoutRequested},
	model.PayoutPaid:       {model.PayoutProcessing},
	model.PayoutFailed:     {model.PayoutProcessing},
}

// ProcessPayout 管理员推进打款状态：requested -> processing -> paid | failed
func (s *EarningsService) ProcessPayout(ctx context.Context, admin model.Actor, payoutID string, req ProcessPayoutRequest) (*model.PayoutRequest, error) {
	ctx, span := tracing.Tracer.Start(ctx, "EarningsService.ProcessPayout")
	defer span.End()

	if !admin.IsAdmin() {
		return nil, util.ErrPermissionDenied
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var payout *model.PayoutRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.EarningsRepo.WithTx(tx)

		p, err := repo.FindPayout(ctx, payoutID)
		if err != nil {
			return util.NotFoundOr(err, "payout")
		}

		now := s.Now.now()
		updates := map[string]interface{}{
			"status":       req.Status,
			"processed_by": admin.ID,
			"processed_at": now,
		}
		if req.AdminNotes != "" {
			updates["admin_notes"] = req.AdminNotes
		}
		switch req.Status {
		case model.PayoutPaid:
			updates["external_transaction_id"] = req.ExternalTransactionID
		case model.PayoutFailed:
			updates["failure_reason"] = req.FailureReason
		}

		ok, err := repo.TransitionPayout(ctx, p.ID, payoutSources[req.Status], updates)
		if err != nil {
			return err
		}
		if !ok {
			return util.InvalidStateError("cannot move payout from %s to %s", p.Status, req.Status)
		}

		switch req.Status {
		case model.PayoutPaid:
			if err := repo.AddPaidOut(ctx, p.TeacherID, p.AmountCents); err != nil {
				return err
			}
			if err := repo.MarkPaidOut(ctx, p.TeacherID, p.ID); err != nil {
				return err
			}
		case model.PayoutFailed:
			if err := repo.ReleaseBalance(ctx, p.TeacherID, p.AmountCents); err != nil {
				return err
			}
		}

		payout, err = repo.FindPayout(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	monitoring.PayoutRequests.WithLabelValues(string(payout.Status)).Inc()
	publishPayout(ctx, s.Publisher, payout)
	logger.Log.Info("Payout processed",
		zap.String("payout_id", payout.ID),
		zap.Uint("teacher_id", payout.TeacherID),
		zap.Uint("admin_id", admin.ID),
		zap.String("status", string(payout.Status)),
	)
	return payout, nil
}

type EarningsDashboard struct {
	Earnings           model.TeacherEarnings      `json:"earnings"`
	ReservedCents      int64                      `json:"reservedCents"`
	Currency           string                     `json:"currency"`
	MinPayoutCents     int64                      `json:"minPayoutCents"`
	PayoutAccount      *model.PayoutAccount       `json:"payoutAccount,omitempty"`
	RecentTransactions []model.EarningTransaction `json:"recentTransactions"`
}

func (s *EarningsService) Dashboard(ctx context.Context, teacherID uint) (*EarningsDashboard, error) {
	cfg := s.ledger()
	d := &EarningsDashboard{
		Earnings:       model.TeacherEarnings{TeacherID: teacherID, CommissionBPS: cfg.CommissionBPS},
		Currency:       cfg.Currency,
		MinPayoutCents: cfg.MinPayoutCents,
	}

	earnings, err := s.EarningsRepo.FindEarnings(ctx, teacherID)
	switch {
	case err == nil:
		d.Earnings = *earnings
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	account, err := s.EarningsRepo.FindAccount(ctx, teacherID)
	switch {
	case err == nil:
		d.PayoutAccount = account
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	payouts, err := s.EarningsRepo.ListPayouts(ctx, teacherID, "")
	if err != nil {
		return nil, err
	}
	for _, p := range payouts {
		if p.Status.Open() {
			d.ReservedCents += p.AmountCents
		}
	}

	if d.RecentTransactions, _, err = s.EarningsRepo.ListTransactions(ctx, teacherID, 1, 10); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *EarningsService) ListTransactions(ctx context.Context, teacherID uint, page, limit int) ([]model.EarningTransaction, int64, error) {
	return s.EarningsRepo.ListTransactions(ctx, teacherID, page, limit)
}

func (s *EarningsService) ListPayouts(ctx context.Context, teacherID uint, status model.PayoutStatus) ([]model.PayoutRequest, error) {
	switch status {
	case "", model.PayoutRequested, model.PayoutProcessing, model.PayoutPaid, model.PayoutFailed, model.PayoutCancelled:
	default:
		return nil, util.ValidationError("unknown payout status %q", status)
	}
	return s.EarningsRepo.ListPayouts(ctx, teacherID, status)
}

type PayoutAccountRequest struct {
	BankName      string `json:"bankName" validate:"required,max=100"`
	AccountHolder string `json:"accountHolder" validate:"required,max=100"`
	AccountNumber string `json:"accountNumber" validate:"required,numeric,min=4,max=34"`
}

// UpsertPayoutAccount 只保存账号后四位，修改后需要管理员重新审核
func (s *EarningsService) UpsertPayoutAccount(ctx context.Context, teacherID uint, req PayoutAccountRequest) (*model.PayoutAccount, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	account := &model.PayoutAccount{
		TeacherID:     teacherID,
		BankName:      req.BankName,
		AccountHolder: req.AccountHolder,
		AccountLast4:  req.AccountNumber[len(req.AccountNumber)-4:],
		IsVerified:    false,
	}
	if err := s.EarningsRepo.UpsertAccount(ctx, account); err != nil {
		return nil, err
	}
	return s.EarningsRepo.FindAccount(ctx, teacherID)
}

func (s *EarningsService) VerifyPayoutAccount(ctx context.Context, admin model.Actor, teacherID uint) (*model.PayoutAccount, error) {
	if !admin.IsAdmin() {
		return nil, util.ErrPermissionDenied
	}
	rows, err := s.EarningsRepo.VerifyAccount(ctx, teacherID, admin.ID, s.Now.now())
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, util.NotFoundError("payout account not found")
	}
	logger.Log.Info("Payout account verified", zap.Uint("teacher_id", teacherID), zap.Uint("admin_id", admin.ID))
	return s.EarningsRepo.FindAccount(ctx, teacherID)
}
