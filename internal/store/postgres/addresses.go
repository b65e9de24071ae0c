package postgres

import (
	"context"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

func (t *pgTx) GetAddress(ctx context.Context, id string) (domain.Address, error) {
	var a domain.Address
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, recipient, phone, street, province_id, city_id, district_id, postal_code, created_at
		FROM addresses WHERE id=$1`, id).
		Scan(&a.ID, &a.UserID, &a.Recipient, &a.Phone, &a.Street, &a.ProvinceID, &a.CityID, &a.DistrictID,
			&a.PostalCode, &a.CreatedAt)
	if err != nil {
		return domain.Address{}, notFound(err, "address", id)
	}
	return a, nil
}

func (t *pgTx) InsertAddress(ctx context.Context, a domain.Address) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO addresses (id, user_id, recipient, phone, street, province_id, city_id, district_id,
			postal_code, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.UserID, a.Recipient, a.Phone, a.Street, a.ProvinceID, a.CityID, a.DistrictID, a.PostalCode,
		a.CreatedAt)
	return err
}
