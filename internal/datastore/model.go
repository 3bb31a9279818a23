// model.go: GORM model for the cleaned ingredient catalog
package datastore

import (
	"github.com/tphakala/nutrigraph/internal/catalog"
)

// Ingredient is one catalog row. Column names match the CSV header. Names
// are capped at catalog.MaxNameLength runes, inside the varchar(512) columns.
type Ingredient struct {
	ID             uint     `gorm:"primaryKey"`
	Source         string   `gorm:"type:varchar(32);not null;index"`
	FdcID          string   `gorm:"column:fdc_id;type:varchar(32)"`
	Name           string   `gorm:"type:varchar(512);not null"`
	EnergyKcal     *float64 `gorm:"column:energy_kcal"`
	ProteinG       *float64 `gorm:"column:protein_g"`
	CarbohydratesG *float64 `gorm:"column:carbohydrates_g"`
	FatG           *float64 `gorm:"column:fat_g"`
	NameNormalized string   `gorm:"column:name_normalized;type:varchar(512);uniqueIndex;not null"`
}

// TableName pins the table name regardless of GORM naming strategy
func (Ingredient) TableName() string {
	return "ingredients"
}

func fromCanonical(c *catalog.CanonicalIngredient) Ingredient {
	return Ingredient{
		Source:         string(c.Source),
		FdcID:          c.ExternalID,
		Name:           c.Name,
		EnergyKcal:     c.EnergyKcal,
		ProteinG:       c.ProteinG,
		CarbohydratesG: c.CarbohydratesG,
		FatG:           c.FatG,
		NameNormalized: c.NameNormalized,
	}
}

func (i *Ingredient) toCanonical() catalog.CanonicalIngredient {
	return catalog.CanonicalIngredient{
		Source:         catalog.Source(i.Source),
		ExternalID:     i.FdcID,
		Name:           i.Name,
		NameNormalized: i.NameNormalized,
		EnergyKcal:     i.EnergyKcal,
		ProteinG:       i.ProteinG,
		CarbohydratesG: i.CarbohydratesG,
		FatG:           i.FatG,
	}
}
