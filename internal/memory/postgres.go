package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// entryRow is the gorm model backing the persistent provider. Grounded
// on internal/database/database.go's connection-pool setup (gorm.Open
// plus sql.DB tuning) and internal/database/repositories/pattern.go's
// pagination/filter idiom, generalized to a flat namespace/key table
// instead of the teacher's typed Project/Task rows.
type entryRow struct {
	ID         uint   `gorm:"primaryKey"`
	SwarmID    string `gorm:"uniqueIndex:idx_memory_entry,priority:1"`
	Namespace  string `gorm:"uniqueIndex:idx_memory_entry,priority:2"`
	Key        string `gorm:"uniqueIndex:idx_memory_entry,priority:3"`
	Value      []byte
	Persistent bool
}

func (entryRow) TableName() string { return "swarm_memory_entries" }

// Postgres is the persistent MemoryProvider backend: writes made with
// persistent=true are guaranteed to survive a process restart.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres opens a connection using dsn and auto-migrates the
// backing table.
func NewPostgres(dsn string, maxOpenConns, maxIdleConns int) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)

	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Store(ctx context.Context, swarmID, namespace, key string, value interface{}, persistent bool) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal value: %w", err)
	}
	row := entryRow{SwarmID: swarmID, Namespace: namespace, Key: key, Value: data, Persistent: persistent}
	result := p.db.WithContext(ctx).
		Where(entryRow{SwarmID: swarmID, Namespace: namespace, Key: key}).
		Assign(entryRow{Value: data, Persistent: persistent}).
		FirstOrCreate(&row)
	if result.Error != nil {
		return false, fmt.Errorf("upsert entry: %w", result.Error)
	}
	return true, nil
}

func (p *Postgres) Retrieve(ctx context.Context, swarmID, namespace, key string) (interface{}, bool, error) {
	var row entryRow
	err := p.db.WithContext(ctx).
		Where(&entryRow{SwarmID: swarmID, Namespace: namespace, Key: key}).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query entry: %w", err)
	}
	var value interface{}
	if err := json.Unmarshal(row.Value, &value); err != nil {
		return nil, false, fmt.Errorf("unmarshal value: %w", err)
	}
	return value, true, nil
}

func (p *Postgres) Delete(ctx context.Context, swarmID, namespace, key string) error {
	err := p.db.WithContext(ctx).
		Where(&entryRow{SwarmID: swarmID, Namespace: namespace, Key: key}).
		Delete(&entryRow{}).Error
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (p *Postgres) ListKeys(ctx context.Context, swarmID, namespace, pattern string) ([]string, error) {
	var rows []entryRow
	err := p.db.WithContext(ctx).
		Where(&entryRow{SwarmID: swarmID, Namespace: namespace}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if pattern == "" {
			out = append(out, r.Key)
			continue
		}
		if matched, _ := path.Match(pattern, r.Key); matched {
			out = append(out, r.Key)
		}
	}
	return out, nil
}

func (p *Postgres) ClearNamespace(ctx context.Context, swarmID, namespace string) error {
	err := p.db.WithContext(ctx).
		Where(&entryRow{SwarmID: swarmID, Namespace: namespace}).
		Delete(&entryRow{}).Error
	if err != nil {
		return fmt.Errorf("clear namespace: %w", err)
	}
	return nil
}

func (p *Postgres) GetMemoryStats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Namespace string
		Count     int
	}
	err := p.db.WithContext(ctx).Model(&entryRow{}).
		Select("namespace, count(*) as count").
		Group("namespace").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	stats := Stats{Backend: "postgres", NamespaceCounts: make(map[string]int)}
	for _, r := range rows {
		stats.NamespaceCounts[r.Namespace] = r.Count
		stats.TotalKeys += r.Count
	}
	return stats, nil
}
