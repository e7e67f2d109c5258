// internal/workers/esign/classify-company-size/models.go
package classifycompanysize

import "subsidy-esign/internal/models"

type Input struct {
	ApplicationID string                 `json:"applicationId,omitempty"`
	Metrics       *models.CompanyMetrics `json:"metrics"`
}

type Output struct {
	CompanySize   models.SizeCategory `json:"companySize"`
	SizeRationale string              `json:"sizeRationale"`
	SizeCriteria  map[string]bool     `json:"sizeCriteria"`
}
