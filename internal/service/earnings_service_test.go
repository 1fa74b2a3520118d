package service

import (
	"context"
	"sync"
	"testing"

	"coursehub_backend/internal/model"
	"coursehub_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	queues []string
	events []interface{}
}

func (p *recordingPublisher) Publish(ctx context.Context, queueName string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = append(p.queues, queueName)
	p.events = append(p.events, payload)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (f *fixture) sale(t *testing.T, ref string, gross int64) *model.Sale {
	t.Helper()
	s, err := f.earningsSvc.RecordSale(f.ctx, SaleInput{
		PaymentRef: ref,
		CourseID:   f.course.ID,
		StudentID:  50,
		GrossCents: gross,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) teacherEarnings(t *testing.T) *model.TeacherEarnings {
	t.Helper()
	e, err := f.earnings.FindEarnings(f.ctx, f.teacher.ID)
	require.NoError(t, err)
	return e
}

func (f *fixture) verifiedAccount(t *testing.T) {
	t.Helper()
	_, err := f.earningsSvc.UpsertPayoutAccount(f.ctx, f.teacher.ID, PayoutAccountRequest{
		BankName:      "ICBC",
		AccountHolder: "Li Lei",
		AccountNumber: "6222020200112233",
	})
	require.NoError(t, err)
	_, err = f.earningsSvc.VerifyPayoutAccount(f.ctx, f.admin, f.teacher.ID)
	require.NoError(t, err)
}

func TestSplitCommission(t *testing.T) {
	tests := []struct {
		gross, bps, commission, net int64
	}{
		{gross: 10000, bps: 3000, commission: 3000, net: 7000},
		{gross: 9999, bps: 3000, commission: 3000, net: 6999},
		{gross: 1, bps: 5000, commission: 1, net: 0},
		{gross: 1, bps: 4999, commission: 0, net: 1},
		{gross: 12345, bps: 0, commission: 0, net: 12345},
		{gross: 12345, bps: 10000, commission: 12345, net: 0},
	}
	for _, tt := range tests {
		commission, net := model.SplitCommission(tt.gross, tt.bps)
		assert.Equal(t, tt.commission, commission, "gross=%d bps=%d", tt.gross, tt.bps)
		assert.Equal(t, tt.net, net, "gross=%d bps=%d", tt.gross, tt.bps)
		assert.Equal(t, tt.gross, commission+net)
	}
}

func TestRecordSale(t *testing.T) {
	f := newFixture(t)

	s := f.sale(t, "pay_001", 9999)
	assert.Equal(t, f.teacher.ID, s.TeacherID)
	assert.EqualValues(t, 3000, s.CommissionBPS)
	assert.EqualValues(t, 6999, s.NetCents)
	assert.Equal(t, model.SaleCompleted, s.Status)

	e := f.teacherEarnings(t)
	assert.EqualValues(t, 9999, e.TotalGrossCents)
	assert.EqualValues(t, 6999, e.TotalNetCents)
	assert.EqualValues(t, 6999, e.PendingBalanceCents)

	// 购买后自动开通课程
	enrollment, err := f.courses.FindActiveEnrollment(f.ctx, 50, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay_001", enrollment.PaymentRef)

	// 重复回调不重复入账
	replay := f.sale(t, "pay_001", 9999)
	assert.Equal(t, s.ID, replay.ID)
	e = f.teacherEarnings(t)
	assert.EqualValues(t, 6999, e.TotalNetCents)
	txs, total, err := f.earningsSvc.ListTransactions(f.ctx, f.teacher.ID, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, txs, 1)
	assert.Equal(t, model.EarningSale, txs[0].Kind)
	assert.EqualValues(t, 3000, txs[0].CommissionCents)

	_, err = f.earningsSvc.RecordSale(f.ctx, SaleInput{PaymentRef: "pay_x", CourseID: f.course.ID, StudentID: 50})
	assert.True(t, util.IsKind(err, util.KindValidation))
	_, err = f.earningsSvc.RecordSale(f.ctx, SaleInput{PaymentRef: "pay_y", CourseID: "missing", StudentID: 50, GrossCents: 100})
	assert.ErrorIs(t, err, util.ErrCourseNotFound)
}

func TestRecordSaleConcurrentReplay(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	ids := make([]string, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.earningsSvc.RecordSale(f.ctx, SaleInput{
				PaymentRef: "pay_dup",
				CourseID:   f.course.ID,
				StudentID:  50,
				GrossCents: 5000,
			})
			if assert.NoError(t, err) {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	e := f.teacherEarnings(t)
	assert.EqualValues(t, 3500, e.TotalNetCents)
}

func TestRecordRefundProportional(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "pay_r", 9999)

	partial, err := f.earningsSvc.RecordRefund(f.ctx, "pay_r", 3333, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, model.SalePartiallyRefunded, partial.Status)
	assert.EqualValues(t, 3333, partial.RefundedCents)
	e := f.teacherEarnings(t)
	assert.EqualValues(t, 6999-2333, e.TotalNetCents)
	assert.EqualValues(t, 9999-3333, e.TotalGrossCents)

	_, err = f.earningsSvc.RecordRefund(f.ctx, "pay_r", 7000, "")
	assert.True(t, util.IsKind(err, util.KindValidation))
	_, err = f.earningsSvc.RecordRefund(f.ctx, "pay_r", -1, "")
	assert.True(t, util.IsKind(err, util.KindValidation))

	// 0 表示退还剩余全部金额，净收益正好冲回到 0
	full, err := f.earningsSvc.RecordRefund(f.ctx, "pay_r", 0, "")
	require.NoError(t, err)
	assert.Equal(t, model.SaleRefunded, full.Status)
	assert.EqualValues(t, 9999, full.RefundedCents)
	e = f.teacherEarnings(t)
	assert.Zero(t, e.TotalNetCents)
	assert.Zero(t, e.TotalGrossCents)
	assert.Zero(t, e.PendingBalanceCents)

	txs, _, err := f.earningsSvc.ListTransactions(f.ctx, f.teacher.ID, 1, 20)
	require.NoError(t, err)
	var net, gross int64
	for _, tx := range txs {
		net += tx.NetCents
		gross += tx.GrossCents
		assert.Equal(t, tx.GrossCents, tx.CommissionCents+tx.NetCents)
	}
	assert.Zero(t, net)
	assert.Zero(t, gross)

	_, err = f.courses.FindActiveEnrollment(f.ctx, 50, f.course.ID)
	assert.Error(t, err, "full refund drops the enrollment")

	_, err = f.earningsSvc.RecordRefund(f.ctx, "pay_r", 0, "")
	assert.True(t, util.IsKind(err, util.KindInvalidState))
	_, err = f.earningsSvc.RecordRefund(f.ctx, "missing", 0, "")
	assert.True(t, util.IsKind(err, util.KindNotFound))
}

func TestPayoutAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.earningsSvc.UpsertPayoutAccount(f.ctx, f.teacher.ID, PayoutAccountRequest{BankName: "b", AccountHolder: "h", AccountNumber: "12ab"})
	assert.True(t, util.IsKind(err, util.KindValidation))

	account, err := f.earningsSvc.UpsertPayoutAccount(f.ctx, f.teacher.ID, PayoutAccountRequest{
		BankName:      "ICBC",
		AccountHolder: "Li Lei",
		AccountNumber: "6222020200112233",
	})
	require.NoError(t, err)
	assert.Equal(t, "2233", account.AccountLast4)
	assert.False(t, account.IsVerified)

	_, err = f.earningsSvc.VerifyPayoutAccount(f.ctx, f.teacher, f.teacher.ID)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	_, err = f.earningsSvc.VerifyPayoutAccount(f.ctx, f.admin, 404)
	assert.True(t, util.IsKind(err, util.KindNotFound))

	verified, err := f.earningsSvc.VerifyPayoutAccount(f.ctx, f.admin, f.teacher.ID)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	require.NotNil(t, verified.VerifiedBy)
	assert.Equal(t, f.admin.ID, *verified.VerifiedBy)

	// 修改账户后需要重新审核
	changed, err := f.earningsSvc.UpsertPayoutAccount(f.ctx, f.teacher.ID, PayoutAccountRequest{
		BankName:      "CMB",
		AccountHolder: "Li Lei",
		AccountNumber: "9999888877776666",
	})
	require.NoError(t, err)
	assert.Equal(t, account.ID, changed.ID)
	assert.Equal(t, "6666", changed.AccountLast4)
	assert.False(t, changed.IsVerified)
	assert.Nil(t, changed.VerifiedBy)
}

func TestRequestPayout(t *testing.T) {
	f := newFixture(t)
	pub := &recordingPublisher{}
	f.earningsSvc.Publisher = pub
	f.sale(t, "pay_1", 100000)

	_, err := f.earningsSvc.RequestPayout(f.ctx, f.teacher.ID, 50000)
	require.Error(t, err)
	assert.Equal(t, "a verified payout account is required", err.Error())

	f.verifiedAccount(t)

	_, err = f.earningsSvc.RequestPayout(f.ctx, f.teacher.ID, 999)
	assert.True(t, util.IsKind(err, util.KindValidation))

	payout, err := f.earningsSvc.RequestPayout(f.ctx, f.teacher.ID, 50000)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutRequested, payout.Status)
	assert.EqualValues(t, 20000, f.teacherEarnings(t).PendingBalanceCents)

	_, err = f.earningsSvc.RequestPayout(f.ctx, f.teacher.ID, 30000)
	require.Error(t, err)
	assert.Equal(t, "insufficient balance", err.Error())

	d, err := f.earningsSvc.Dashboard(f.ctx, f.teacher.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 50000, d.ReservedCents)
	assert.EqualValues(t, 20000, d.Earnings.PendingBalanceCents)
	assert.Equal(t, "USD", d.Currency)
	require.NotNil(t, d.PayoutAccount)
	assert.Len(t, d.RecentTransactions, 1)

	pub.mu.Lock()
	assert.Equal(t, []string{util.QueuePayoutUpdated}, pub.queues)
	pub.mu.Unlock()
}

func TestRequestPayoutCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "pay_1", 100000)
	f.verifiedAccount(t)

	const workers = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.earningsSvc.RequestPayout(f.ctx, f.teacher.ID, 40000); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	e := f.teacherEarnings(t)
	assert.EqualValues(t, 30000, e.PendingBalanceCents)
	assert.GreaterOrEqual(t, e.PendingBalanceCents, int64(0))
}

func TestCancelPayout(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "pay_1", 100000)
	f.verifiedAccount(t)

	payout, err := f.earningsSvc.RequestPayout(f.ctx, f.teacher.ID, 70000)
	require.NoError(t, err)
	assert.Zero(t, f.teacherEarnings(t).PendingBalanceCents)

	_, err = f.earningsSvc.CancelPayout(f.ctx, 11, payout.ID)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	cancelled, err := f.earningsSvc.CancelPayout(f.ctx, f.teacher.ID, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutCancelled, cancelled.Status)
	assert.EqualValues(t, 70000, f.teacherEarnings(t).PendingBalanceCents)

	_, err = f.earningsSvc.CancelPayout(f.ctx, f.teacher.ID, payout.ID)
	assert.True(t, util.IsKind(err, util.KindInvalidState))
}

func TestProcessPayout(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "pay_1", 100000)
	f.verifiedAccount(t)

	payout, err := f.earningsSvc.RequestPayout(f.ctx, f.teacher.ID, 70000)
	require.NoError(t, err)

	_, err = f.earningsSvc.ProcessPayout(f.ctx, f.teacher, payout.ID, ProcessPayoutRequest{Status: model.PayoutProcessing})
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	_, err = f.earningsSvc.ProcessPayout(f.ctx, f.admin, payout.ID, ProcessPayoutRequest{Status: model.PayoutPaid})
	assert.True(t, util.IsKind(err, util.KindInvalidState), "requested cannot jump to paid")
	_, err = f.earningsSvc.ProcessPayout(f.ctx, f.admin, payout.ID, ProcessPayoutRequest{Status: model.PayoutCancelled})
	assert.True(t, util.IsKind(err, util.KindValidation))

	processing, err := f.earningsSvc.ProcessPayout(f.ctx, f.admin, payout.ID, ProcessPayoutRequest{Status: model.PayoutProcessing})
	require.NoError(t, err)
	assert.Equal(t, model.PayoutProcessing, processing.Status)

	paid, err := f.earningsSvc.ProcessPayout(f.ctx, f.admin, payout.ID, ProcessPayoutRequest{
		Status:                model.PayoutPaid,
		ExternalTransactionID: "wire-42",
		AdminNotes:            "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PayoutPaid, paid.Status)
	assert.Equal(t, "wire-42", paid.ExternalTransactionID)
	require.NotNil(t, paid.ProcessedBy)
	assert.Equal(t, f.admin.ID, *paid.ProcessedBy)

	e := f.teacherEarnings(t)
	assert.EqualValues(t, 70000, e.TotalPaidOutCents)
	assert.Zero(t, e.PendingBalanceCents)

	txs, _, err := f.earningsSvc.ListTransactions(f.ctx, f.teacher.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].IsPaidOut)
	require.NotNil(t, txs[0].PayoutRequestID)
	assert.Equal(t, payout.ID, *txs[0].PayoutRequestID)

	_, err = f.earningsSvc.CancelPayout(f.ctx, f.teacher.ID, payout.ID)
	assert.True(t, util.IsKind(err, util.KindInvalidState))
	_, err = f.earningsSvc.ProcessPayout(f.ctx, f.admin, payout.ID, ProcessPayoutRequest{Status: model.PayoutFailed})
	assert.True(t, util.IsKind(err, util.KindInvalidState))
}

func TestProcessPayoutFailedReleasesFunds(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "pay_1", 100000)
	f.verifiedAccount(t)

	payout, err := f.earningsSvc.RequestPayout(f.ctx, f.teacher.ID, 20000)
	require.NoError(t, err)
	_, err = f.earningsSvc.ProcessPayout(f.ctx, f.admin, payout.ID, ProcessPayoutRequest{Status: model.PayoutProcessing})
	require.NoError(t, err)

	failed, err := f.earningsSvc.ProcessPayout(f.ctx, f.admin, payout.ID, ProcessPayoutRequest{
		Status:        model.PayoutFailed,
		FailureReason: "account closed",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PayoutFailed, failed.Status)
	assert.Equal(t, "account closed", failed.FailureReason)

	e := f.teacherEarnings(t)
	assert.EqualValues(t, 70000, e.PendingBalanceCents)
	assert.Zero(t, e.TotalPaidOutCents)

	list, err := f.earningsSvc.ListPayouts(f.ctx, f.teacher.ID, model.PayoutFailed)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = f.earningsSvc.ListPayouts(f.ctx, f.teacher.ID, "lost")
	assert.True(t, util.IsKind(err, util.KindValidation))
}
