package service

import "errors"

var (
	// ErrNotOwner 调用方不是该别名的属主。
	ErrNotOwner = errors.New("alias not owned by caller")

	// ErrProvisioningExhausted 生成别名时连续撞到已占用的标识。
	ErrProvisioningExhausted = errors.New("alias generation exhausted attempts")

	// ErrAliasDisabled 目标别名已停用。
	ErrAliasDisabled = errors.New("alias is disabled")

	// ErrMigrationPending 记录绑定在旧机器人上，等待迁移确认。
	ErrMigrationPending = errors.New("record pending bot migration")
)
