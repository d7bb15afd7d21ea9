package metadb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Tx 表示一次尚未落盘的记录写入。Commit 之前数据库里看不到新行；
// 任何未 Commit 的 Tx 在 Close 时回滚，保证中途失败不会留下半成品。
type Tx struct {
	tx        *sql.Tx
	committed bool
}

// Commit 使写入永久生效。
func (t *Tx) Commit() error {
	logrus.Debug("committing metadata transaction")
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.committed = true
	return nil
}

// Close rolls back the transaction unless it was committed. It is safe to
// defer Close immediately after Set and still call Commit later.
func (t *Tx) Close() error {
	if t.committed {
		return nil
	}
	logrus.Debug("rolling back metadata transaction")
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
