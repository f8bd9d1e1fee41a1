package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/orderintake/internal/models"
)

// CatalogRepository provides read access to the catalog. Catalog writes are
// owned by the admin CRUD surface and are treated as eventually visible
// external state here.
type CatalogRepository struct {
	readOnlyDB *gorm.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(readOnlyDB *gorm.DB) *CatalogRepository {
	return &CatalogRepository{readOnlyDB: readOnlyDB}
}

// GetItem gets a catalog item by ID.
func (r *CatalogRepository) GetItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := r.readOnlyDB.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get catalog item")
	}
	return &item, nil
}

// FindItemByName gets an available catalog item of a business by its name,
// matched case-insensitively.
func (r *CatalogRepository) FindItemByName(ctx context.Context, businessID uuid.UUID, name string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := r.readOnlyDB.WithContext(ctx).
		Where("business_id = ? AND LOWER(name) = LOWER(?) AND available = ?", businessID, name, true).
		First(&item).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find catalog item by name")
	}
	return &item, nil
}

// GetDurationTier gets a duration tier by ID.
func (r *CatalogRepository) GetDurationTier(ctx context.Context, id uuid.UUID) (*models.DurationTier, error) {
	var tier models.DurationTier
	err := r.readOnlyDB.WithContext(ctx).First(&tier, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get duration tier")
	}
	return &tier, nil
}

// GetOperatingHours returns the opening-hours row for a weekday, preferring
// a branch-specific row over the business-wide one. A nil result means no
// schedule is configured for that weekday and the unit is treated as open.
func (r *CatalogRepository) GetOperatingHours(ctx context.Context, scope models.Scope, weekday int) (*models.OperatingHours, error) {
	var hours models.OperatingHours

	if scope.BranchID != nil {
		err := r.readOnlyDB.WithContext(ctx).
			Where("business_id = ? AND branch_id = ? AND weekday = ?", scope.BusinessID, *scope.BranchID, weekday).
			First(&hours).Error
		if err == nil {
			return &hours, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(err, "failed to get branch operating hours")
		}
	}

	err := r.readOnlyDB.WithContext(ctx).
		Where("business_id = ? AND branch_id IS NULL AND weekday = ?", scope.BusinessID, weekday).
		First(&hours).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get operating hours")
	}
	return &hours, nil
}

// GetBusiness gets a business by ID.
func (r *CatalogRepository) GetBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	var business models.Business
	err := r.readOnlyDB.WithContext(ctx).First(&business, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get business")
	}
	return &business, nil
}
