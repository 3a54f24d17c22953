package database

import (
	"pii-audit-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegisterAppendOnlyGuard 在 GORM 的 create/update/delete 回调链上注册写保护。
// 只要语句的目标表属于 tables（无论通过 Model 还是 Table 指定，单条或批量），
// update/delete 都会在真正执行 SQL 之前以 model.ErrImmutableRecord 失败；
// create 只允许普通插入与 ON CONFLICT DO NOTHING，带 DoUpdates/UpdateAll 的 upsert 同样被拒绝。
// 原生 Exec 不经过回调链，生产环境应在数据库侧额外配置触发器或只授予 INSERT/SELECT 权限。
func RegisterAppendOnlyGuard(db *gorm.DB, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	protected := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		protected[t] = struct{}{}
	}
	isProtected := func(tx *gorm.DB) bool {
		if tx.Statement == nil {
			return false
		}
		table := tx.Statement.Table
		if table == "" && tx.Statement.Schema != nil {
			table = tx.Statement.Schema.Table
		}
		_, ok := protected[table]
		return ok
	}

	guard := func(tx *gorm.DB) {
		if isProtected(tx) {
			_ = tx.AddError(model.ErrImmutableRecord)
		}
	}
	createGuard := func(tx *gorm.DB) {
		if isProtected(tx) && rewritesOnConflict(tx.Statement) {
			_ = tx.AddError(model.ErrImmutableRecord)
		}
	}

	if err := db.Callback().Create().Before("gorm:begin_transaction").Register("audit:append_only_upsert", createGuard); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:begin_transaction").Register("audit:append_only_update", guard); err != nil {
		return err
	}
	return db.Callback().Delete().Before("gorm:begin_transaction").Register("audit:append_only_delete", guard)
}

// rewritesOnConflict 判断插入语句是否会在主键冲突时改写已有行。
func rewritesOnConflict(stmt *gorm.Statement) bool {
	c, ok := stmt.Clauses["ON CONFLICT"]
	if !ok {
		return false
	}
	switch oc := c.Expression.(type) {
	case clause.OnConflict:
		return !oc.DoNothing && (oc.UpdateAll || len(oc.DoUpdates) > 0)
	case *clause.OnConflict:
		return oc != nil && !oc.DoNothing && (oc.UpdateAll || len(oc.DoUpdates) > 0)
	}
	// 无法识别的冲突子句一律视为改写
	return true
}
