package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursehub_backend/internal/model"
	"coursehub_backend/internal/repository"
	"coursehub_backend/internal/util"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var validate = validator.New()

// validateStruct 把 validator 的错误压成一条 ValidationError
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return util.ValidationError("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return util.ValidationError("invalid request: %s", strings.Join(msgs, "; "))
}

// ensureInstructor 只有课程讲师（或管理员）可以管理课程下的测验
func ensureInstructor(ctx context.Context, courses *repository.CourseRepository, courseID string, actor model.Actor) (*model.Course, error) {
	course, err := courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrCourseNotFound
		}
		return nil, err
	}
	if actor.IsAdmin() || course.InstructorID == actor.ID {
		return course, nil
	}
	return nil, util.ErrPermissionDenied
}

// Clock 便于测试中固定时间
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
