package storage

import (
	"context"

	"github.com/mastertime-app/mastertime/internal/model"
	"github.com/mastertime-app/mastertime/libs/db"
)

// CatalogRepository reads the staff and service catalog. The catalog is
// managed by the back office; the engine only ever reads it.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetStaff(ctx context.Context, id string) (model.Staff, error) {
	var s model.Staff
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, is_active
		FROM staff
		WHERE id = $1
	`, id).Scan(&s.ID, &s.BusinessID, &s.Name, &s.IsActive)
	if err != nil {
		return model.Staff{}, translate(err)
	}
	return s, nil
}

func (r *CatalogRepository) GetService(ctx context.Context, id string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, base_duration_mins, buffer_mins, base_price::text, is_active
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.BusinessID, &s.Name, &s.BaseDurationMins, &s.BufferMins, &s.BasePrice, &s.IsActive)
	if err != nil {
		return model.Service{}, translate(err)
	}
	return s, nil
}

func (r *CatalogRepository) ListStaffForService(ctx context.Context, serviceID string) ([]model.Staff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id::text, s.business_id::text, s.name, s.is_active
		FROM staff s
		JOIN staff_services ss ON ss.staff_id = s.id
		WHERE ss.service_id = $1
		ORDER BY s.name ASC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staff []model.Staff
	for rows.Next() {
		var s model.Staff
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.IsActive); err != nil {
			return nil, err
		}
		staff = append(staff, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return staff, nil
}
