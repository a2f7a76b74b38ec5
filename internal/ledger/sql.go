package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type deployedFile struct {
	Server  string `gorm:"primaryKey"`
	AppUUID string `gorm:"primaryKey;size:36"`
	Path    string `gorm:"primaryKey"`
}

type credentialRow struct {
	AppUUID      string `gorm:"primaryKey;size:36"`
	BouncerName  string
	EncryptedKey string
	LAPIURL      string
	CreatedAt    time.Time
}

type serverRow struct {
	Name             string `gorm:"primaryKey"`
	Installed        bool
	Available        bool
	LoggingInstalled bool
	LAPIURL          string
	EncryptedAPIKey  string
	CheckedAt        time.Time
}

// SQLStore keeps the ledger in a gorm managed database.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) a sqlite ledger.
func OpenSQLite(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return NewSQLStore(db)
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&deployedFile{}, &credentialRow{}, &serverRow{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Files(ctx context.Context, server, appUUID string) ([]string, error) {
	var rows []deployedFile
	err := s.db.WithContext(ctx).
		Where("server = ? AND app_uuid = ?", server, appUUID).
		Order("path").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Path)
	}
	return out, nil
}

func (s *SQLStore) SaveFiles(ctx context.Context, server, appUUID string, files []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("server = ? AND app_uuid = ?", server, appUUID).Delete(&deployedFile{}).Error; err != nil {
			return fmt.Errorf("clear files: %w", err)
		}
		for _, p := range Union(files, nil) {
			if err := tx.Create(&deployedFile{Server: server, AppUUID: appUUID, Path: p}).Error; err != nil {
				return fmt.Errorf("save file %s: %w", p, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Placements(ctx context.Context, appUUID string) ([]string, error) {
	var servers []string
	err := s.db.WithContext(ctx).Model(&deployedFile{}).
		Where("app_uuid = ?", appUUID).
		Distinct().Order("server").
		Pluck("server", &servers).Error
	if err != nil {
		return nil, fmt.Errorf("load placements: %w", err)
	}
	return servers, nil
}

func (s *SQLStore) Credential(ctx context.Context, appUUID string) (Credential, bool, error) {
	var row credentialRow
	err := s.db.WithContext(ctx).First(&row, "app_uuid = ?", appUUID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("load credential: %w", err)
	}
	return Credential{
		AppUUID:      row.AppUUID,
		BouncerName:  row.BouncerName,
		EncryptedKey: row.EncryptedKey,
		LAPIURL:      row.LAPIURL,
		CreatedAt:    row.CreatedAt,
	}, true, nil
}

func (s *SQLStore) SaveCredential(ctx context.Context, c Credential) error {
	row := credentialRow{
		AppUUID:      c.AppUUID,
		BouncerName:  c.BouncerName,
		EncryptedKey: c.EncryptedKey,
		LAPIURL:      c.LAPIURL,
		CreatedAt:    c.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteCredential(ctx context.Context, appUUID string) error {
	if err := s.db.WithContext(ctx).Delete(&credentialRow{}, "app_uuid = ?", appUUID).Error; err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *SQLStore) Server(ctx context.Context, name string) (ServerState, bool, error) {
	var row serverRow
	err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ServerState{}, false, nil
	}
	if err != nil {
		return ServerState{}, false, fmt.Errorf("load server: %w", err)
	}
	return ServerState(row), true, nil
}

func (s *SQLStore) SaveServer(ctx context.Context, st ServerState) error {
	row := serverRow(st)
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save server: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
