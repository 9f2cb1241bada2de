package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const shipmentColumns = `id, shipment_number, supplier_id, origin_port, destination_port,
	goods_description, hs_code, gross_weight_kg, net_weight_kg, volume_cbm,
	total_packages, status, created_at, updated_at`

func (s *Store) CreateShipment(ctx context.Context, sh Shipment) error {
	now := time.Now().UTC()
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = now
	}
	if sh.Status == "" {
		sh.Status = "draft"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sh.ID, sh.ShipmentNumber, sh.SupplierID, sh.OriginPort, sh.DestinationPort,
		sh.GoodsDescription, sh.HSCode, nullFloat(sh.GrossWeightKg), nullFloat(sh.NetWeightKg),
		nullFloat(sh.VolumeCBM), nullInt(sh.TotalPackages), sh.Status,
		formatTime(sh.CreatedAt), formatTime(now),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("shipment %q: %w", sh.ShipmentNumber, ErrDuplicateShipment)
	}
	return err
}

func (s *Store) GetShipment(ctx context.Context, id string) (Shipment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`, id)
	sh, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Shipment{}, ErrNotFound
	}
	return sh, err
}

// updatableShipmentColumns are the columns UpdateShipmentFields may set.
var updatableShipmentColumns = []string{
	"origin_port", "destination_port", "goods_description", "hs_code",
	"gross_weight_kg", "net_weight_kg", "volume_cbm", "total_packages", "status",
}

// UpdateShipmentFields sets only the given columns of an existing shipment
// in a single statement, so concurrent updates of different columns do not
// overwrite each other. Keys must be column names.
func (s *Store) UpdateShipmentFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	var sets []string
	var args []any
	for _, col := range updatableShipmentColumns {
		v, ok := fields[col]
		if !ok {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if len(sets) != len(fields) {
		for col := range fields {
			if !slices.Contains(updatableShipmentColumns, col) {
				return fmt.Errorf("shipment column %q is not updatable", col)
			}
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE shipments SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanShipment(row scanner) (Shipment, error) {
	var sh Shipment
	var gross, net, volume sql.NullFloat64
	var packages sql.NullInt64
	var createdAt, updatedAt string
	if err := row.Scan(&sh.ID, &sh.ShipmentNumber, &sh.SupplierID, &sh.OriginPort, &sh.DestinationPort,
		&sh.GoodsDescription, &sh.HSCode, &gross, &net, &volume, &packages, &sh.Status,
		&createdAt, &updatedAt); err != nil {
		return Shipment{}, err
	}
	if gross.Valid {
		sh.GrossWeightKg = &gross.Float64
	}
	if net.Valid {
		sh.NetWeightKg = &net.Float64
	}
	if volume.Valid {
		sh.VolumeCBM = &volume.Float64
	}
	if packages.Valid {
		n := int(packages.Int64)
		sh.TotalPackages = &n
	}
	var err error
	if sh.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Shipment{}, err
	}
	if sh.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Shipment{}, err
	}
	return sh, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
