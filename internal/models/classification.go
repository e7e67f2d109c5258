// internal/models/classification.go
package models

type SizeCategory string

const (
	SizeSmall  SizeCategory = "Small"
	SizeMedium SizeCategory = "Medium"
	SizeLarge  SizeCategory = "Large"
)

// CompanySizeResult is derived on every call and never stored.
type CompanySizeResult struct {
	Category  SizeCategory    `json:"category"`
	Rationale string          `json:"rationale"`
	Criteria  map[string]bool `json:"criteria"`
}
