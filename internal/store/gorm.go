package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/outpost-link/internal/link"
)

const lastDeviceKey = "last"

type deviceRow struct {
	Key          string `gorm:"primaryKey;size:32"`
	Port         string `gorm:"not null"`
	USB          bool
	VID          int
	PID          int
	SerialNumber string
	Product      string
	UpdatedAt    time.Time
}

func (deviceRow) TableName() string { return "link_devices" }

type roundRow struct {
	ID         string `gorm:"primaryKey;size:36"`
	Mode       string `gorm:"size:16;not null"`
	Score      int
	Hits       int
	Shots      int
	NearMisses int
	Accuracy   float64
	DurationMS int64
	EndedAt    time.Time `gorm:"index"`
}

func (roundRow) TableName() string { return "rounds" }

func toDeviceRow(dev link.Device) deviceRow {
	return deviceRow{
		Key:          lastDeviceKey,
		Port:         dev.Port,
		USB:          dev.USB,
		VID:          int(dev.VID),
		PID:          int(dev.PID),
		SerialNumber: dev.SerialNumber,
		Product:      dev.Product,
	}
}

func (r deviceRow) device() link.Device {
	return link.Device{
		Port:         r.Port,
		USB:          r.USB,
		VID:          uint16(r.VID),
		PID:          uint16(r.PID),
		SerialNumber: r.SerialNumber,
		Product:      r.Product,
	}
}

func toRoundRow(r Round) roundRow {
	return roundRow{
		ID:         r.ID,
		Mode:       r.Mode,
		Score:      r.Score,
		Hits:       r.Hits,
		Shots:      r.Shots,
		NearMisses: r.NearMisses,
		Accuracy:   r.Accuracy,
		DurationMS: r.Duration.Milliseconds(),
		EndedAt:    r.EndedAt,
	}
}

func (r roundRow) round() Round {
	return Round{
		ID:         r.ID,
		Mode:       r.Mode,
		Score:      r.Score,
		Hits:       r.Hits,
		Shots:      r.Shots,
		NearMisses: r.NearMisses,
		Accuracy:   r.Accuracy,
		Duration:   time.Duration(r.DurationMS) * time.Millisecond,
		EndedAt:    r.EndedAt,
	}
}

var _ Store = (*Gorm)(nil)

// Gorm stores devices and rounds in postgres.
type Gorm struct {
	db *gorm.DB
}

func OpenGorm(ctx context.Context, dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&deviceRow{}, &roundRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) RememberDevice(ctx context.Context, dev link.Device) error {
	row := toDeviceRow(dev)
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: remember device: %w", err)
	}
	return nil
}

func (g *Gorm) LastDevice(ctx context.Context) (link.Device, bool, error) {
	var rows []deviceRow
	err := g.db.WithContext(ctx).Where("key = ?", lastDeviceKey).Limit(1).Find(&rows).Error
	if err != nil {
		return link.Device{}, false, fmt.Errorf("store: last device: %w", err)
	}
	if len(rows) == 0 {
		return link.Device{}, false, nil
	}
	return rows[0].device(), true, nil
}

func (g *Gorm) RecordRound(ctx context.Context, r Round) error {
	row := toRoundRow(prepare(r))
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: record round: %w", err)
	}
	return nil
}

func (g *Gorm) RecentRounds(ctx context.Context, limit int) ([]Round, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []roundRow
	err := g.db.WithContext(ctx).Order("ended_at desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: recent rounds: %w", err)
	}
	out := make([]Round, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.round())
	}
	return out, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
