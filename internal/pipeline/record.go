package pipeline

import (
	"time"

	"github.com/mediscan-tech/mediscan/internal/extract"
	"github.com/mediscan-tech/mediscan/internal/langid"
)

// Source names which image(s) a record's fields came from.
const (
	SourceFront  = "front"
	SourceBack   = "back"
	SourceMerged = "merged"
)

// FieldConfidence breaks the record confidence down per field.
type FieldConfidence struct {
	MedicineName float64 `json:"medicineName"`
	Ingredients  float64 `json:"ingredients"`
	Quantity     float64 `json:"quantity"`
}

// MedicineRecord is the final structured output for one scanned medicine.
// All fields are always present; an unrecognized field is empty with
// confidence 0 rather than omitted.
type MedicineRecord struct {
	ImageID          string          `json:"imageId"`
	DetectedLanguage string          `json:"detectedLanguage"`
	MedicineName     string          `json:"medicineName"`
	Ingredients      []string        `json:"ingredients"`
	Quantity         string          `json:"quantity"`
	Source           string          `json:"source"`
	Confidence       float64         `json:"confidence"`
	FieldConfidence  FieldConfidence `json:"fieldConfidence"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// recordFrom builds a record out of one side's fields.
func (p *Pipeline) recordFrom(imageID string, lang langid.Code, fields extract.Fields, source string) *MedicineRecord {
	ingredients := fields.Ingredients.Values
	if ingredients == nil {
		ingredients = []string{}
	}
	return &MedicineRecord{
		ImageID:          imageID,
		DetectedLanguage: string(lang),
		MedicineName:     fields.MedicineName.Value,
		Ingredients:      ingredients,
		Quantity:         fields.Quantity.Value,
		Source:           source,
		Confidence:       fields.Overall(p.cfg.Extract.Weights),
		FieldConfidence: FieldConfidence{
			MedicineName: fields.MedicineName.Confidence,
			Ingredients:  fields.Ingredients.Confidence,
			Quantity:     fields.Quantity.Confidence,
		},
		CreatedAt: time.Now().UTC(),
	}
}
