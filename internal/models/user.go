package models

// User 用户（核心只读取角色用于鉴权）
type User struct {
	Email      string   `json:"email"`
	Roles      []string `json:"roles"`
	Superadmin bool     `json:"superadmin"`
}

// HasRole 是否持有指定角色
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Role 角色定义
type Role struct {
	Name            string   `json:"name"`
	AssociatedGroup string   `json:"associated_group,omitempty"` // 目录服务群组，用于定期同步成员
	Permissions     []string `json:"permissions"`
}

// 核心用到的权限名
const (
	PermissionAdministrateLoan = "administrate_loan"
)
