package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"medeasy/pharmacy/internal/orm"
)

// LoadMedicinesFile ingests the catalog CSV at path. See LoadMedicines.
func LoadMedicinesFile(ctx context.Context, db *orm.Client, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("unable to load medicine catalog %s: %w", path, err)
	}
	defer file.Close()
	return LoadMedicines(ctx, db, file)
}

// LoadMedicines ingests a catalog CSV into the shared medicine list (rows
// without a branch), skipping brand ids that are already present. Columns:
// brand id, brand name, dosage form, -, strength, generic name, -,
// manufacturer, and at least one more.
func LoadMedicines(ctx context.Context, db *orm.Client, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("unable to read medicine header: %w", err)
	}

	rows := 0
	err := db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		medicines := tx.Model(orm.Medicine)
		seen := make(map[string]bool)
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				log.Printf("unable to read medicine row: %v", err)
				continue
			}
			if len(record) < 9 {
				continue
			}
			brandID := strings.TrimSpace(record[0])
			brandName := strings.TrimSpace(record[1])
			if brandName == "" || seen[brandID] {
				continue
			}
			seen[brandID] = true

			if brandID != "" {
				existing, err := medicines.FindFirst(ctx, orm.FindArgs{Where: orm.Where{"sku": brandID}})
				if err != nil {
					return fmt.Errorf("unable to check medicine %s: %w", brandName, err)
				}
				if existing != nil {
					continue
				}
			}

			_, err = medicines.Create(ctx, orm.Data{
				"sku":          brandID,
				"name":         brandName,
				"brandName":    brandName,
				"unitType":     strings.TrimSpace(record[2]),
				"strength":     strings.TrimSpace(record[4]),
				"genericName":  strings.TrimSpace(record[5]),
				"manufacturer": strings.TrimSpace(record[7]),
			})
			if err != nil {
				return fmt.Errorf("unable to insert medicine %s: %w", brandName, err)
			}
			rows++
		}
	})
	if err != nil {
		return rows, err
	}
	log.Printf("seeded medicine catalog with %d rows", rows)
	return rows, nil
}
