package database

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TableCopy reports how many rows one table contributed.
type TableCopy struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// CopyAll moves every engine table from src into dst, typically a sqlite
// file into a fresh postgres database. Rows whose primary key already exists
// in dst are skipped, so the copy can be rerun after a partial failure.
// Each table is copied in its own transaction.
func CopyAll(ctx context.Context, src, dst *gorm.DB, batchSize int) ([]TableCopy, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := Migrate(dst); err != nil {
		return nil, err
	}

	var out []TableCopy
	for _, model := range Tables() {
		table, err := tableName(src, model)
		if err != nil {
			return out, err
		}
		n, err := copyTable(ctx, src, dst, model, batchSize)
		if err != nil {
			return out, fmt.Errorf("copy %s: %w", table, err)
		}
		log.Info().Str("table", table).Int64("rows", n).Msg("table copied")
		out = append(out, TableCopy{Table: table, Rows: n})
	}
	return out, nil
}

func copyTable(ctx context.Context, src, dst *gorm.DB, model any, batchSize int) (int64, error) {
	stmt := &gorm.Statement{DB: src}
	if err := stmt.Parse(model); err != nil {
		return 0, err
	}
	// FindInBatches needs a typed slice of the model.
	batch := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem())).Interface()

	var copied int64
	err := dst.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := func() error {
			ins := tx.Session(&gorm.Session{SkipHooks: true}).
				Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(batch, batchSize)
			if ins.Error != nil {
				return ins.Error
			}
			copied += ins.RowsAffected
			return nil
		}

		// Composite keys cannot be paged by cursor; those tables are small.
		if stmt.Schema.PrioritizedPrimaryField == nil {
			if err := src.WithContext(ctx).Model(model).Find(batch).Error; err != nil {
				return err
			}
			return insert()
		}
		res := src.WithContext(ctx).Model(model).FindInBatches(batch, batchSize, func(_ *gorm.DB, _ int) error {
			return insert()
		})
		return res.Error
	})
	return copied, err
}

func tableName(db *gorm.DB, model any) (string, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return "", err
	}
	return stmt.Schema.Table, nil
}
