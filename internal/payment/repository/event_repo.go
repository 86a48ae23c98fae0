package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type eventRepo struct{}

func Provide() paymentdomain.EventRepository {
	return &eventRepo{}
}

func (r *eventRepo) InsertEventRecord(ctx context.Context, db *gorm.DB, record *paymentdomain.EventRecord) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "provider"},
				{Name: "provider_event_id"},
			},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *eventRepo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&paymentdomain.EventRecord{}).
		Where("id = ?", id).
		Update("processed_at", at).Error
}
