package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"rate_rules/internal/domain"
	"rate_rules/internal/rules"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists rule sets and last known rates in SQLite
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path. An empty path selects the
// per-user default location.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		var err error
		path, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure Go SQLite driver
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.RuleSetRecord{}, &domain.RateSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "RateRules", "data", "rates.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Rule Set Operations
// ======================================================================================

// SaveRuleSet validates text and stores it under name, replacing any previous version.
func (s *Storage) SaveRuleSet(name, text string, multiplier decimal.Decimal) error {
	if _, err := rules.Parse(text); err != nil {
		return fmt.Errorf("rule set %q: %w", name, err)
	}
	record := domain.RuleSetRecord{
		Name:             name,
		Text:             text,
		GlobalMultiplier: multiplier.String(),
	}
	var existing domain.RuleSetRecord
	if err := s.db.First(&existing, "name = ?", name).Error; err == nil {
		record.CreatedAt = existing.CreatedAt
	}
	return s.db.Save(&record).Error
}

// GetRuleSetRecord returns the stored record, or ErrRuleSetNotFound.
func (s *Storage) GetRuleSetRecord(name string) (*domain.RuleSetRecord, error) {
	var record domain.RuleSetRecord
	err := s.db.First(&record, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleSetNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// LoadRuleSet parses the stored rule set and applies its multiplier.
func (s *Storage) LoadRuleSet(name string) (*rules.RuleSet, error) {
	record, err := s.GetRuleSetRecord(name)
	if err != nil {
		return nil, err
	}
	rs, err := rules.Parse(record.Text)
	if err != nil {
		return nil, fmt.Errorf("stored rule set %q: %w", name, err)
	}
	if record.GlobalMultiplier != "" {
		m, err := decimal.NewFromString(record.GlobalMultiplier)
		if err != nil {
			return nil, fmt.Errorf("stored rule set %q multiplier: %w", name, err)
		}
		rs.GlobalMultiplier = m
	}
	return rs, nil
}

// ListRuleSets returns all stored records ordered by name
func (s *Storage) ListRuleSets() ([]domain.RuleSetRecord, error) {
	var records []domain.RuleSetRecord
	err := s.db.Order("name").Find(&records).Error
	return records, err
}

// DeleteRuleSet removes a stored rule set
func (s *Storage) DeleteRuleSet(name string) error {
	res := s.db.Where("name = ?", name).Delete(&domain.RuleSetRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRuleSetNotFound, name)
	}
	return nil
}

// ======================================================================================
// Rate Operations
// ======================================================================================

// SaveRates upserts the last known rates in a single transaction
func (s *Storage) SaveRates(ticks []domain.RateTick) error {
	if len(ticks) == 0 {
		return nil
	}
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, tick := range ticks {
			snap := domain.RateSnapshot{
				Exchange:  tick.Exchange,
				Pair:      tick.Pair.String(),
				Rate:      tick.Rate.String(),
				UpdatedAt: now,
			}
			if err := tx.Save(&snap).Error; err != nil {
				return fmt.Errorf("failed to save %s(%s): %w", tick.Exchange, snap.Pair, err)
			}
		}
		return nil
	})
}

// LoadRates returns every stored rate. Rows that no longer parse are skipped.
func (s *Storage) LoadRates() ([]domain.RateTick, error) {
	var snaps []domain.RateSnapshot
	if err := s.db.Order("exchange, pair").Find(&snaps).Error; err != nil {
		return nil, err
	}

	ticks := make([]domain.RateTick, 0, len(snaps))
	for _, snap := range snaps {
		pair, err := domain.ParseCurrencyPair(snap.Pair)
		if err != nil {
			continue
		}
		rate, err := decimal.NewFromString(snap.Rate)
		if err != nil {
			continue
		}
		ticks = append(ticks, domain.RateTick{Exchange: snap.Exchange, Pair: pair, Rate: rate})
	}
	return ticks, nil
}
