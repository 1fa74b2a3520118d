package model

import "time"

type SaleStatus string

const (
	SaleCompleted         SaleStatus = "completed"
	SalePartiallyRefunded SaleStatus = "partially_refunded"
	SaleRefunded          SaleStatus = "refunded"
)

// swagger:model Sale
type Sale struct {
	UUIDBase
	PaymentRef    string     `gorm:"size:100;not null;uniqueIndex" json:"paymentRef"`
	CourseID      string     `gorm:"size:36;not null;index" json:"courseId"`
	StudentID     uint       `gorm:"not null;index" json:"studentId"`
	TeacherID     uint       `gorm:"not null;index" json:"teacherId"`
	GrossCents    int64      `gorm:"not null" json:"grossCents"`
	CommissionBPS int64      `gorm:"column:commission_bps;not null" json:"commissionBps"`
	NetCents      int64      `gorm:"not null" json:"netCents"`
	RefundedCents int64      `gorm:"not null" json:"refundedCents"`
	Status        SaleStatus `gorm:"size:30;not null" json:"status"`
	RefundReason  string     `gorm:"type:text" json:"refundReason,omitempty"`
	RefundedAt    *time.Time `json:"refundedAt,omitempty"`
}

func (Sale) TableName() string {
	return "sales"
}

// swagger:model TeacherEarnings
type TeacherEarnings struct {
	UUIDBase
	TeacherID           uint  `gorm:"not null;uniqueIndex" json:"teacherId"`
	TotalGrossCents     int64 `gorm:"not null" json:"totalGrossCents"`
	TotalNetCents       int64 `gorm:"not null" json:"totalNetCents"`
	TotalPaidOutCents   int64 `gorm:"not null" json:"totalPaidOutCents"`
	PendingBalanceCents int64 `gorm:"not null" json:"pendingBalanceCents"`
	CommissionBPS       int64 `gorm:"column:commission_bps;not null" json:"commissionBps"`
}

func (TeacherEarnings) TableName() string {
	return "teacher_earnings"
}

type EarningKind string

const (
	EarningSale   EarningKind = "sale"
	EarningRefund EarningKind = "refund"
)

// swagger:model EarningTransaction
type EarningTransaction struct {
	UUIDBase
	TeacherID       uint        `gorm:"not null;index" json:"teacherId"`
	CourseID        string      `gorm:"size:36;not null" json:"courseId"`
	SaleID          string      `gorm:"size:36;not null;index" json:"saleId"`
	Kind            EarningKind `gorm:"size:20;not null" json:"kind"`
	GrossCents      int64       `gorm:"not null" json:"grossCents"`
	CommissionBPS   int64       `gorm:"column:commission_bps;not null" json:"commissionBps"`
	CommissionCents int64       `gorm:"not null" json:"commissionCents"`
	// 退款记录为负数
	NetCents        int64   `gorm:"not null" json:"netCents"`
	IsPaidOut       bool    `gorm:"not null;index" json:"isPaidOut"`
	PayoutRequestID *string `gorm:"size:36;index" json:"payoutRequestId,omitempty"`
}

func (EarningTransaction) TableName() string {
	return "earning_transactions"
}

// swagger:model PayoutAccount
type PayoutAccount struct {
	UUIDBase
	TeacherID     uint       `gorm:"not null;uniqueIndex" json:"teacherId"`
	BankName      string     `gorm:"size:100;not null" json:"bankName"`
	AccountHolder string     `gorm:"size:100;not null" json:"accountHolder"`
	AccountLast4  string     `gorm:"size:4;not null" json:"accountLast4"`
	IsVerified    bool       `gorm:"not null" json:"isVerified"`
	VerifiedAt    *time.Time `json:"verifiedAt,omitempty"`
	VerifiedBy    *uint      `json:"verifiedBy,omitempty"`
}

func (PayoutAccount) TableName() string {
	return "payout_accounts"
}

type PayoutStatus string

const (
	PayoutRequested  PayoutStatus = "requested"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCancelled  PayoutStatus = "cancelled"
)

// Open 资金仍处于预留状态
func (s PayoutStatus) Open() bool {
	return s == PayoutRequested || s == PayoutProcessing
}

// swagger:model PayoutRequest
type PayoutRequest struct {
	UUIDBase
	TeacherID             uint         `gorm:"not null;index" json:"teacherId"`
	AmountCents           int64        `gorm:"not null" json:"amountCents"`
	Status                PayoutStatus `gorm:"size:20;not null;index" json:"status"`
	PayoutAccountID       string       `gorm:"size:36;not null" json:"payoutAccountId"`
	ProcessedBy           *uint        `json:"processedBy,omitempty"`
	ProcessedAt           *time.Time   `json:"processedAt,omitempty"`
	ExternalTransactionID string       `gorm:"size:100" json:"externalTransactionId,omitempty"`
	FailureReason         string       `gorm:"type:text" json:"failureReason,omitempty"`
	AdminNotes            string       `gorm:"type:text" json:"adminNotes,omitempty"`
}

func (PayoutRequest) TableName() string {
	return "payout_requests"
}

// SplitCommission 按基点拆分平台佣金，四舍五入到分
func SplitCommission(grossCents, bps int64) (commission, net int64) {
	commission = (grossCents*bps + 5000) / 10000
	return commission, grossCents - commission
}
