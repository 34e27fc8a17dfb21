// Package repository holds the gorm-backed stores for broadcasts, products,
// results, VODs, view history and paid orders.
package repository

import (
	"livecommerce/internal/database"

	"gorm.io/gorm"
)

// readDB routes a read to the replica when one is configured. Reads inside a
// transaction, and reads on a handle that is not the process-wide primary,
// stay where they are: the admission post-check must see its own insert.
func readDB(primary *gorm.DB) *gorm.DB {
	if _, inTx := primary.Statement.ConnPool.(gorm.TxCommitter); inTx {
		return primary
	}
	if database.DB == nil || database.DB.Statement.ConnPool != primary.Statement.ConnPool {
		return primary
	}
	if replica := database.GetReadDB(); replica != nil {
		return replica
	}
	return primary
}
