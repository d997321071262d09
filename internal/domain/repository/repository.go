// Package repository 定义数据访问层接口
package repository

import (
	"context"
)

// Transactor 事务管理接口。事务句柄经 context 传递，
// 仓储方法在同一 context 下自动加入事务。
type Transactor interface {
	// WithTransaction 在事务中执行操作，fn 返回错误时整体回滚
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
