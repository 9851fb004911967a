package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shelfscan/backend/internal/domain"
)

// ProductRecord is the relational row behind a ProductIdentity. Metadata is
// stored as serialized JSON so the schema stays flat.
type ProductRecord struct {
	ID       string  `gorm:"primaryKey"`
	Barcode  *string `gorm:"uniqueIndex"`
	Name     string  `gorm:"not null"`
	Brand    string
	Category string
	Size     string
	ImageURL string
	Metadata string
}

// TableName keeps the table name explicit.
func (ProductRecord) TableName() string { return "products" }

// ProductRepository is the gorm-backed system of record for product identity.
type ProductRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (and migrates) a SQLite-backed repository at dsn.
func Open(dsn string, zlog *zap.Logger) (*ProductRepository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open product store: %w", err)
	}
	if err := db.AutoMigrate(&ProductRecord{}); err != nil {
		return nil, fmt.Errorf("migrate product store: %w", err)
	}
	return New(db, zlog), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, zlog *zap.Logger) *ProductRepository {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	return &ProductRepository{db: db, logger: zlog}
}

// DB exposes the underlying handle for migrations in tests.
func (r *ProductRepository) DB() *gorm.DB { return r.db }

// FindByBarcode returns the identity carrying barcode, or ErrProductNotFound.
func (r *ProductRepository) FindByBarcode(ctx context.Context, barcode string) (*domain.ProductIdentity, error) {
	if barcode == "" {
		return nil, domain.ErrInvalidRequest
	}
	var record ProductRecord
	err := r.db.WithContext(ctx).Where("barcode = ?", barcode).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("barcode %q: %w", barcode, domain.ErrProductNotFound)
		}
		return nil, domain.WrapTransient("find by barcode", err)
	}
	return record.toDomain(), nil
}

// FindByText returns candidates whose name or brand matches the query text.
// Ranking is the caller's job; this is a recall query.
func (r *ProductRepository) FindByText(ctx context.Context, query string) ([]domain.ProductIdentity, error) {
	if query == "" {
		return nil, domain.ErrInvalidRequest
	}
	pattern := "%" + query + "%"
	var records []ProductRecord
	err := r.db.WithContext(ctx).
		Where("name LIKE ? OR brand LIKE ?", pattern, pattern).
		Limit(25).
		Find(&records).Error
	if err != nil {
		return nil, domain.WrapTransient("find by text", err)
	}

	identities := make([]domain.ProductIdentity, 0, len(records))
	for i := range records {
		identities = append(identities, *records[i].toDomain())
	}
	return identities, nil
}

// Save upserts an identity. New identities get a generated id; existing rows
// keep their id, which is immutable once assigned.
func (r *ProductRepository) Save(ctx context.Context, identity *domain.ProductIdentity) (*domain.ProductIdentity, error) {
	if identity == nil || identity.Name == "" {
		return nil, fmt.Errorf("identity requires a name: %w", domain.ErrValidation)
	}

	record := fromDomain(identity)
	if record.ID == "" {
		// Re-resolving a known barcode updates the row in place.
		if record.Barcode != nil {
			var existing ProductRecord
			err := r.db.WithContext(ctx).Where("barcode = ?", *record.Barcode).First(&existing).Error
			if err == nil {
				record.ID = existing.ID
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, domain.WrapTransient("save lookup", err)
			}
		}
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
	}

	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("barcode already assigned: %w", domain.ErrValidation)
		}
		return nil, domain.WrapTransient("save product", err)
	}

	r.logger.Debug("product saved", zap.String("id", record.ID))
	return record.toDomain(), nil
}

func (record *ProductRecord) toDomain() *domain.ProductIdentity {
	identity := &domain.ProductIdentity{
		ID:       record.ID,
		Name:     record.Name,
		Brand:    record.Brand,
		Category: record.Category,
		Size:     record.Size,
		ImageURL: record.ImageURL,
	}
	if record.Barcode != nil {
		identity.Barcode = *record.Barcode
	}
	if record.Metadata != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(record.Metadata), &metadata); err == nil {
			identity.Metadata = metadata
		}
	}
	return identity
}

func fromDomain(identity *domain.ProductIdentity) *ProductRecord {
	record := &ProductRecord{
		ID:       identity.ID,
		Name:     identity.Name,
		Brand:    identity.Brand,
		Category: identity.Category,
		Size:     identity.Size,
		ImageURL: identity.ImageURL,
	}
	if identity.Barcode != "" {
		barcode := identity.Barcode
		record.Barcode = &barcode
	}
	if len(identity.Metadata) > 0 {
		if data, err := json.Marshal(identity.Metadata); err == nil {
			record.Metadata = string(data)
		}
	}
	return record
}
