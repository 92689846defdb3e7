package timedata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"battery-scheduler/internal/model"
)

// Sample is one channel value at one instant.
type Sample struct {
	ID      uint      `gorm:"primaryKey"`
	Channel string    `gorm:"uniqueIndex:idx_channel_time;not null"`
	Time    time.Time `gorm:"uniqueIndex:idx_channel_time;index;not null"`
	Value   float64
}

// Repository stores telemetry samples in sqlite.
type Repository struct {
	db *gorm.DB
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite has a single writer; ":memory:" is also per connection
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Sample{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Add stores samples; a sample for an existing channel and time replaces it.
func (r *Repository) Add(ctx context.Context, samples ...Sample) error {
	if len(samples) == 0 {
		return nil
	}
	for i := range samples {
		samples[i].ID = 0
		samples[i].Time = samples[i].Time.UTC()
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel"}, {Name: "time"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&samples)
	return result.Error
}

// Latest returns the newest sample of channel, gorm.ErrRecordNotFound if
// there is none.
func (r *Repository) Latest(ctx context.Context, channel string) (Sample, error) {
	var s Sample
	result := r.db.WithContext(ctx).
		Where("channel = ?", channel).
		Order("time desc").
		First(&s)
	return s, result.Error
}

// Prune deletes samples older than before.
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("time < ?", before.UTC()).Delete(&Sample{})
	return result.RowsAffected, result.Error
}

// QueryHistoricData averages the samples of each channel per quarter in
// [from, to). The result holds one slice per channel, indexed by quarter
// from from; quarters without samples are nil.
func (r *Repository) QueryHistoricData(ctx context.Context, from, to time.Time, channels []string) (map[string][]*float64, error) {
	from = model.RoundDownToQuarter(from)
	n := int(to.Sub(from) / model.QuarterDuration)
	out := make(map[string][]*float64, len(channels))
	for _, ch := range channels {
		out[ch] = make([]*float64, max(n, 0))
	}
	if n <= 0 || len(channels) == 0 {
		return out, nil
	}

	var samples []Sample
	result := r.db.WithContext(ctx).
		Where("channel IN ? AND time >= ? AND time < ?", channels, from.UTC(), to.UTC()).
		Order("time asc").
		Find(&samples)
	if result.Error != nil {
		return nil, result.Error
	}

	type acc struct {
		sum   float64
		count int
	}
	sums := make(map[string][]acc, len(channels))
	for _, ch := range channels {
		sums[ch] = make([]acc, n)
	}
	for _, s := range samples {
		i := int(s.Time.Sub(from) / model.QuarterDuration)
		if i < 0 || i >= n {
			continue
		}
		sums[s.Channel][i].sum += s.Value
		sums[s.Channel][i].count++
	}
	for ch, accs := range sums {
		for i, a := range accs {
			if a.count > 0 {
				v := a.sum / float64(a.count)
				out[ch][i] = &v
			}
		}
	}
	return out, nil
}

// LatestSoc returns the newest SoC [%], nil when none was recorded.
func (r *Repository) LatestSoc(ctx context.Context) (*int, error) {
	s, err := r.Latest(ctx, ChannelEssSoc)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	soc := int(math.Round(s.Value))
	return &soc, nil
}
