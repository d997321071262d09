// Package postgres 提供 PostgreSQL 数据库访问层实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type txCtxKey struct{}

// TxManager 事务管理器。事务句柄通过 context 向下游仓储传递，
// 仓储方法用 getDB 统一取当前句柄。
type TxManager struct {
	client *Client
}

// NewTxManager 创建事务管理器
func NewTxManager(client *Client) *TxManager {
	return &TxManager{client: client}
}

// WithTransaction 在事务中执行操作。fn 返回错误时整体回滚。
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "postgres.TxManager.WithTransaction")
	defer span.End()

	err := m.client.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txCtxKey{}, tx))
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// getDB 返回当前上下文中的事务句柄，没有事务时返回默认连接
func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txCtxKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}
