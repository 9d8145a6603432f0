package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/queue-status/backend/internal/models"
)

var csvHeader = []string{"Participant", "Product", "Status", "Mode", "Stage", "Validation"}

// WriteCSV writes one row per record under the export header.
func WriteCSV(w io.Writer, records []models.JoinedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		validation := "Invalid"
		if r.ValidationPassed {
			validation = "Valid"
		}
		row := []string{r.ProfileName, r.ProductName, r.ProductStatus, r.IntegrationMode, r.CurrentStage, validation}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.TokenID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
