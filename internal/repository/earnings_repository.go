package repository

import (
	"context"
	"time"

	"coursehub_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EarningsRepository struct {
	DB *gorm.DB
}

func NewEarningsRepository(db *gorm.DB) *EarningsRepository {
	return &EarningsRepository{DB: db}
}

func (r *EarningsRepository) WithTx(tx *gorm.DB) *EarningsRepository {
	return &EarningsRepository{DB: tx}
}

func (r *EarningsRepository) FindSaleByRef(ctx context.Context, paymentRef string) (*model.Sale, error) {
	var s model.Sale
	if err := r.DB.WithContext(ctx).Where("payment_ref = ?", paymentRef).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *EarningsRepository) CreateSale(ctx context.Context, s *model.Sale) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

func (r *EarningsRepository) UpdateSale(ctx context.Context, s *model.Sale) error {
	return r.DB.WithContext(ctx).Save(s).Error
}

func (r *EarningsRepository) FindEarnings(ctx context.Context, teacherID uint) (*model.TeacherEarnings, error) {
	var e model.TeacherEarnings
	if err := r.DB.WithContext(ctx).Where("teacher_id = ?", teacherID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// EnsureEarnings 不存在则插入，已存在时 DO NOTHING，由唯一索引保证只有一行
func (r *EarningsRepository) EnsureEarnings(ctx context.Context, teacherID uint, bps int64) error {
	e := model.TeacherEarnings{TeacherID: teacherID, CommissionBPS: bps}
	return r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "teacher_id"}}, DoNothing: true}).
		Create(&e).Error
}

// AddEarnings 累加收益，delta 可以为负（退款）
func (r *EarningsRepository) AddEarnings(ctx context.Context, teacherID uint, grossDelta, netDelta int64) error {
	return r.DB.WithContext(ctx).Model(&model.TeacherEarnings{}).
		Where("teacher_id = ?", teacherID).
		Updates(map[string]interface{}{
			"total_gross_cents":     gorm.Expr("total_gross_cents + ?", grossDelta),
			"total_net_cents":       gorm.Expr("total_net_cents + ?", netDelta),
			"pending_balance_cents": gorm.Expr("pending_balance_cents + ?", netDelta),
		}).Error
}

// ReserveBalance 余额充足时扣减待结算余额，返回是否成功
func (r *EarningsRepository) ReserveBalance(ctx context.Context, teacherID uint, amount int64) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.TeacherEarnings{}).
		Where("teacher_id = ? AND pending_balance_cents >= ?", teacherID, amount).
		Update("pending_balance_cents", gorm.Expr("pending_balance_cents - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *EarningsRepository) ReleaseBalance(ctx context.Context, teacherID uint, amount int64) error {
	return r.DB.WithContext(ctx).Model(&model.TeacherEarnings{}).
		Where("teacher_id = ?", teacherID).
		Update("pending_balance_cents", gorm.Expr("pending_balance_cents + ?", amount)).Error
}

func (r *EarningsRepository) AddPaidOut(ctx context.Context, teacherID uint, amount int64) error {
	return r.DB.WithContext(ctx).Model(&model.TeacherEarnings{}).
		Where("teacher_id = ?", teacherID).
		Update("total_paid_out_cents", gorm.Expr("total_paid_out_cents + ?", amount)).Error
}

func (r *EarningsRepository) CreateTransaction(ctx context.Context, t *model.EarningTransaction) error {
	return r.DB.WithContext(ctx).Create(t).Error
}

func (r *EarningsRepository) ListTransactions(ctx context.Context, teacherID uint, page, limit int) ([]model.EarningTransaction, int64, error) {
	var txs []model.EarningTransaction
	var total int64
	query := r.DB.WithContext(ctx).Model(&model.EarningTransaction{}).Where("teacher_id = ?", teacherID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&txs).Error
	return txs, total, err
}

// MarkPaidOut 把尚未结算的流水关联到打款单
func (r *EarningsRepository) MarkPaidOut(ctx context.Context, teacherID uint, payoutID string) error {
	return r.DB.WithContext(ctx).Model(&model.EarningTransaction{}).
		Where("teacher_id = ? AND is_paid_out = ?", teacherID, false).
		Updates(map[string]interface{}{
			"is_paid_out":       true,
			"payout_request_id": payoutID,
		}).Error
}

func (r *EarningsRepository) FindAccount(ctx context.Context, teacherID uint) (*model.PayoutAccount, error) {
	var a model.PayoutAccount
	if err := r.DB.WithContext(ctx).Where("teacher_id = ?", teacherID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertAccount 修改账户信息后需要重新审核
func (r *EarningsRepository) UpsertAccount(ctx context.Context, a *model.PayoutAccount) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "teacher_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"bank_name", "account_holder", "account_last4", "is_verified", "verified_at", "verified_by", "updated_at",
		}),
	}).Create(a).Error
}

func (r *EarningsRepository) VerifyAccount(ctx context.Context, teacherID, adminID uint, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.PayoutAccount{}).
		Where("teacher_id = ?", teacherID).
		Updates(map[string]interface{}{
			"is_verified": true,
			"verified_at": now,
			"verified_by": adminID,
		})
	return res.RowsAffected, res.Error
}

func (r *EarningsRepository) CreatePayout(ctx context.Context, p *model.PayoutRequest) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

func (r *EarningsRepository) UpdatePayout(ctx context.Context, p *model.PayoutRequest) error {
	return r.DB.WithContext(ctx).Save(p).Error
}

func (r *EarningsRepository) FindPayout(ctx context.Context, id string) (*model.PayoutRequest, error) {
	var p model.PayoutRequest
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// TransitionPayout 带状态条件的更新，防止并发重复处理同一打款单
func (r *EarningsRepository) TransitionPayout(ctx context.Context, id string, from []model.PayoutStatus, updates map[string]interface{}) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.PayoutRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *EarningsRepository) ListPayouts(ctx context.Context, teacherID uint, status model.PayoutStatus) ([]model.PayoutRequest, error) {
	var payouts []model.PayoutRequest
	query := r.DB.WithContext(ctx).Where("teacher_id = ?", teacherID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("created_at DESC").Find(&payouts).Error
	return payouts, err
}
