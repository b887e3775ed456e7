package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// 外部系统适配器的统一错误语义：
// 调用方用 errors.Is / errors.As 分类，不解析错误文本
var (
	// ErrNotFound 外部系统中不存在该对象
	ErrNotFound = errors.New("not found in external system")

	// ErrAlreadyDisabled 设备在目录服务中已是禁用状态
	ErrAlreadyDisabled = errors.New("device already disabled")

	// ErrDuplicateRows 仓库检测到重复的插入批次
	ErrDuplicateRows = errors.New("duplicate rows detected by warehouse")
)

// RPCError 外部调用失败（网络、配额、权限等），可重试与否由 Code 决定
type RPCError struct {
	Op   string // 失败的操作，如 "directory.move_ou"
	Code int    // 外部系统返回的状态码，0 表示未知
	Err  error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed (code %d): %v", e.Op, e.Code, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// DirectoryDevice 目录服务中的设备记录
type DirectoryDevice struct {
	DirectoryID  string `json:"directory_id"`
	SerialNumber string `json:"serial_number"`
	AssetTag     string `json:"asset_tag"`
	Model        string `json:"model"`
	OrgUnitPath  string `json:"org_unit_path"`
}

// OrgUnit 目录服务中的组织单元
type OrgUnit struct {
	OrgUnitPath string `json:"org_unit_path"`
	Name        string `json:"name"`
}

// DirectoryAdapter 设备目录服务适配器
// 组织单元（OU）管理、设备禁用/恢复、群组成员与用户信息查询
type DirectoryAdapter interface {
	// GetDeviceBySerial 按序列号查询目录记录，不存在返回 ErrNotFound
	GetDeviceBySerial(ctx context.Context, serial string) (*DirectoryDevice, error)

	// GetDevice 按目录ID查询目录记录，不存在返回 ErrNotFound
	GetDevice(ctx context.Context, directoryID string) (*DirectoryDevice, error)

	// MoveDeviceOU 迁移设备到目标组织单元
	MoveDeviceOU(ctx context.Context, directoryID, orgUnitPath string) error

	// DisableDevice 禁用（锁定）设备，已禁用返回 ErrAlreadyDisabled
	DisableDevice(ctx context.Context, directoryID string) error

	// ReenableDevice 恢复被禁用的设备
	ReenableDevice(ctx context.Context, directoryID string) error

	// ListGroupMembers 列出群组成员邮箱（角色同步使用）
	ListGroupMembers(ctx context.Context, group string) ([]string, error)

	// GetUserGivenName 查询用户名字（邮件称呼用），不存在返回 ErrNotFound
	GetUserGivenName(ctx context.Context, email string) (string, error)

	// InsertOrgUnit 创建组织单元，已存在时为幂等成功
	InsertOrgUnit(ctx context.Context, orgUnitPath string) error

	// GetOrgUnit 查询组织单元，不存在返回 ErrNotFound
	GetOrgUnit(ctx context.Context, orgUnitPath string) (*OrgUnit, error)
}

// EmailAdapter 邮件发送适配器
type EmailAdapter interface {
	Send(ctx context.Context, to []string, title, body string) error
}

// WarehouseRow 仓库流式写入的一行，InsertID 用于服务端去重
type WarehouseRow struct {
	InsertID string
	Data     json.RawMessage
}

// WarehouseAdapter 数据仓库适配器
// 整批提交；部分失败按整批失败处理，由调用方重试
type WarehouseAdapter interface {
	StreamRows(ctx context.Context, table string, rows []WarehouseRow) error
}
