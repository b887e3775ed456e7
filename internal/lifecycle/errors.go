package lifecycle

import "errors"

// 生命周期操作的错误分类，调用方用 errors.Is 判断
var (
	// ErrDeviceNotFound 设备不存在
	ErrDeviceNotFound = errors.New("device not found")

	// ErrShelfNotFound 货架不存在
	ErrShelfNotFound = errors.New("shelf not found")

	// ErrCreation 注册失败（目录查询或OU迁移失败）
	ErrCreation = errors.New("device creation failed")

	// ErrUnenroll 注销时目录迁移失败
	ErrUnenroll = errors.New("failed to unenroll device")

	// ErrAssignment 未注册设备不能借出
	ErrAssignment = errors.New("cannot assign an unenrolled device")

	// ErrExtend 续借日期越界
	ErrExtend = errors.New("requested due date is out of bounds")

	// ErrGuestNotAllowed 全局配置不允许访客模式
	ErrGuestNotAllowed = errors.New("guest mode is not allowed")

	// ErrEnableGuest 访客模式OU迁移失败
	ErrEnableGuest = errors.New("failed to enable guest mode")

	// ErrUnassignedDevice 操作要求设备已借出
	ErrUnassignedDevice = errors.New("device is not assigned")

	// ErrUnauthorized 操作者既不是借用人也没有管理权限
	ErrUnauthorized = errors.New("caller is not the assignee or an administrator")

	// ErrDeviceIdentifier 设备标识缺失或与标识模式不符
	ErrDeviceIdentifier = errors.New("missing or invalid device identifier")

	// ErrDeviceNotEnrolled 操作要求设备处于注册状态
	ErrDeviceNotEnrolled = errors.New("device is not enrolled")

	// ErrUnableToMoveToShelf 目标货架不存在或已停用
	ErrUnableToMoveToShelf = errors.New("unable to move device to shelf")
)
