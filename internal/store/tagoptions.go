package store

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TagOption is the admin-managed catalog of tags agents may attach to
// a conversation (spec.md §6: "Agent and tag-option admin CRUD").
// Unlike the high-throughput message path, this low-volume admin
// surface is modeled with GORM the way the teacher's own
// repositories/workflow_repo.go does -- a `*gorm.DB` behind a small
// CRUD interface -- rather than hand-written SQL.
type TagOption struct {
	ID       uint           `gorm:"primaryKey" json:"id"`
	Name     string         `gorm:"uniqueIndex;not null" json:"name"`
	Color    string         `json:"color,omitempty"`
	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
}

func (TagOption) TableName() string { return "tag_options" }

// TagOptionRepo is the admin CRUD contract for §6's tag-option routes.
type TagOptionRepo interface {
	List(ctx context.Context) ([]TagOption, error)
	Create(ctx context.Context, t *TagOption) (*TagOption, error)
	Delete(ctx context.Context, name string) error
}

type gormTagOptionRepo struct {
	db *gorm.DB
}

// NewTagOptionRepo opens its own GORM connection against the same
// Postgres DSN the raw-SQL Store uses, and auto-migrates TagOption.
// Only the Postgres backend is supported -- tag-option administration
// is an operator-facing surface, not a dev/embedded-mode concern.
func NewTagOptionRepo(dsn string) (TagOptionRepo, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: open gorm postgres: %w", err)
	}
	if err := db.AutoMigrate(&TagOption{}); err != nil {
		return nil, fmt.Errorf("store: automigrate tag_options: %w", err)
	}
	return &gormTagOptionRepo{db: db}, nil
}

func (r *gormTagOptionRepo) List(ctx context.Context) ([]TagOption, error) {
	var rows []TagOption
	err := r.db.WithContext(ctx).Order("name").Find(&rows).Error
	return rows, err
}

func (r *gormTagOptionRepo) Create(ctx context.Context, t *TagOption) (*TagOption, error) {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *gormTagOptionRepo) Delete(ctx context.Context, name string) error {
	res := r.db.WithContext(ctx).Where("name = ?", name).Delete(&TagOption{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
