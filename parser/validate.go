package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-fasteners/models"
)

// ValidateRecord ensures the scraper captured the required fields.
func ValidateRecord(r models.Record) error {
	switch rec := r.(type) {
	case nil:
		return fmt.Errorf("record is nil")
	case *models.Product:
		return validateProduct(rec)
	case models.MetricsRow:
		if !rec.HasData() {
			return fmt.Errorf("metrics row has no values")
		}
		return nil
	default:
		return fmt.Errorf("unsupported record type %T", r)
	}
}

func validateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("product missing id")
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("product missing url for %s", p.ID)
	}
	return nil
}
