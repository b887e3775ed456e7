package repository

import "context"

// WriteMeta 一次状态变更的审计元信息
type WriteMeta struct {
	Actor   string // 操作人邮箱
	Method  string // 发起操作名，如 "enroll"
	Summary string // 人类可读摘要
}

// AfterPutHook 写入成功后的同步回调
// 是审计行追加与搜索索引刷新的唯一挂接点
type AfterPutHook func(ctx context.Context, modelType, entityID string, entity interface{}, meta WriteMeta) error
