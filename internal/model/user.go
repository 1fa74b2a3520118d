package model

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// Actor 请求方身份。用户本身由认证服务管理，这里只携带 token 中的 id 和角色
type Actor struct {
	ID   uint
	Role UserRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == Admin
}
