package model

import "time"

// swagger:model Course
type Course struct {
	UUIDBase
	Title        string `gorm:"size:200;not null" json:"title"`
	InstructorID uint   `gorm:"index;not null" json:"instructorId"`
	PriceCents   int64  `gorm:"not null" json:"priceCents"`
	IsPublished  bool   `json:"isPublished"`
}

func (Course) TableName() string {
	return "courses"
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentDropped   EnrollmentStatus = "dropped"
	EnrollmentSuspended EnrollmentStatus = "suspended"
)

// swagger:model Enrollment
type Enrollment struct {
	UUIDBase
	StudentID  uint             `gorm:"not null;uniqueIndex:idx_enrollment_student_course" json:"studentId"`
	CourseID   string           `gorm:"size:36;not null;uniqueIndex:idx_enrollment_student_course" json:"courseId"`
	Status     EnrollmentStatus `gorm:"size:20;not null" json:"status"`
	PaymentRef string           `gorm:"size:100" json:"paymentRef,omitempty"`
	EnrolledAt time.Time        `json:"enrolledAt"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
