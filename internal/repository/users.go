package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gng-loaner/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// UserRepository 用户与角色仓库
// 核心只读取角色用于鉴权和角色同步；角色的增删改由外部系统负责
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetUser 按邮箱获取用户
func (r *UserRepository) GetUser(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	var u models.User
	err := r.db.QueryRowContext(ctx,
		`SELECT email, roles, superadmin FROM users WHERE email = $1`, email,
	).Scan(&u.Email, pq.Array(&u.Roles), &u.Superadmin)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if u.Roles == nil {
		u.Roles = []string{}
	}

	return &u, nil
}

// ListUserEmailsWithRole 列出持有指定角色的用户邮箱
func (r *UserRepository) ListUserEmailsWithRole(ctx context.Context, role string) ([]string, error) {
	if role == "" {
		return nil, fmt.Errorf("role is required")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT email FROM users WHERE $1 = ANY(roles) ORDER BY email`, role,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with role: %w", err)
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return emails, nil
}

// AddUserRole 为用户追加角色（用户不存在时创建）
func (r *UserRepository) AddUserRole(ctx context.Context, email, role string) error {
	if email == "" || role == "" {
		return fmt.Errorf("email and role are required")
	}

	query := `
		INSERT INTO users (email, roles, superadmin)
		VALUES ($1, ARRAY[$2]::text[], FALSE)
		ON CONFLICT (email) DO UPDATE SET
			roles = (
				SELECT ARRAY(SELECT DISTINCT unnest(users.roles || ARRAY[$2]::text[]))
			)
	`

	_, err := r.db.ExecContext(ctx, query, email, role)
	if err != nil {
		return fmt.Errorf("failed to add user role: %w", err)
	}

	return nil
}

// RemoveUserRole 移除用户的指定角色
func (r *UserRepository) RemoveUserRole(ctx context.Context, email, role string) error {
	if email == "" || role == "" {
		return fmt.Errorf("email and role are required")
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET roles = array_remove(roles, $2) WHERE email = $1`,
		email, role,
	)
	if err != nil {
		return fmt.Errorf("failed to remove user role: %w", err)
	}

	return nil
}

// ListRolesWithGroup 列出绑定了目录群组的角色（角色同步使用）
func (r *UserRepository) ListRolesWithGroup(ctx context.Context) ([]*models.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, associated_group, permissions
		FROM roles
		WHERE associated_group IS NOT NULL AND associated_group <> ''
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []*models.Role{}
	for rows.Next() {
		var role models.Role
		var group sql.NullString
		if err := rows.Scan(&role.Name, &group, pq.Array(&role.Permissions)); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if group.Valid {
			role.AssociatedGroup = group.String
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	return roles, nil
}

// GetRole 按名称获取角色
func (r *UserRepository) GetRole(ctx context.Context, name string) (*models.Role, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	var role models.Role
	var group sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT name, associated_group, permissions FROM roles WHERE name = $1`, name,
	).Scan(&role.Name, &group, pq.Array(&role.Permissions))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if group.Valid {
		role.AssociatedGroup = group.String
	}

	return &role, nil
}

// HasPermission 判断用户是否持有某权限（超级管理员放行）
func (r *UserRepository) HasPermission(ctx context.Context, email, permission string) (bool, error) {
	user, err := r.GetUser(ctx, email)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if user.Superadmin {
		return true, nil
	}

	for _, roleName := range user.Roles {
		role, err := r.GetRole(ctx, roleName)
		if err != nil {
			return false, err
		}
		if role == nil {
			continue
		}
		for _, p := range role.Permissions {
			if p == permission {
				return true, nil
			}
		}
	}

	return false, nil
}
