package db

import (
	"context"
	"log"

	"ms-fulfillment/internal/models"

	"github.com/uptrace/bun"
)

// Migrate creates the engine's tables when golang-migrate is not
// driving the schema (local development, tests).
func Migrate(db *bun.DB) {
	ctx := context.Background()

	tables := []interface{}{
		(*models.Order)(nil),
		(*models.OrderLineItem)(nil),
		(*models.Payment)(nil),
		(*models.VariantStock)(nil),
	}

	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			log.Fatalf("create table failed: %v", err)
		}
	}

	log.Println("order tables ready")
}
