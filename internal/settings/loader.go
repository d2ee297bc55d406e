package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultRefreshInterval = time.Minute

type settingRow struct {
	Key       string
	Value     *string
	UpdatedAt time.Time
}

// RefreshDBConfigSnapshot reloads all settings from the database and updates the in-memory snapshot.
//
// Must run at process startup; until then every accessor returns its default.
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// SQLite stores numeric JSON in a jsonb column as INTEGER or REAL, so read every value back as text.
	var rows []settingRow
	if errFind := db.WithContext(ctx).
		Model(&models.Setting{}).
		Select("key", "CAST(value AS TEXT) AS value", "updated_at").
		Order("key ASC").
		Scan(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		if row.Value == nil {
			values[key] = nil
		} else {
			values[key] = json.RawMessage(*row.Value)
		}
		if rowUpdatedAt := row.UpdatedAt.UTC(); rowUpdatedAt.After(maxUpdatedAt) {
			maxUpdatedAt = rowUpdatedAt
		}
	}

	StoreDBConfig(maxUpdatedAt, values)
	return nil
}

// Upsert writes a setting and refreshes the snapshot.
func Upsert(ctx context.Context, db *gorm.DB, key string, value any) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: empty key")
	}
	encoded, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return errMarshal
	}
	row := models.Setting{Key: key, Value: datatypes.JSON(encoded), UpdatedAt: time.Now().UTC()}
	if errUpsert := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return errUpsert
	}
	return RefreshDBConfigSnapshot(ctx, db)
}

// StartRefresher reloads the snapshot periodically until ctx is done.
func StartRefresher(ctx context.Context, db *gorm.DB) {
	if db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(defaultRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				previous := DBConfigUpdatedAt()
				if errRefresh := RefreshDBConfigSnapshot(ctx, db); errRefresh != nil {
					if ctx.Err() == nil {
						log.WithError(errRefresh).Warn("settings: refresh snapshot failed")
					}
					continue
				}
				if current := DBConfigUpdatedAt(); current.After(previous) {
					log.Infof("settings: snapshot reloaded (updated_at=%s)", current.Format(time.RFC3339))
				}
			}
		}
	}()
}
