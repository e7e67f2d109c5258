// internal/workers/esign/archive-signed-envelope/models.go
package archivesignedenvelope

type Input struct {
	Provider   string `json:"signingProvider"`
	EnvelopeID string `json:"envelopeId"`
}

type Output struct {
	ArchiveOutcome string   `json:"archiveOutcome"`
	ArchiveState   string   `json:"archiveState"`
	ApplicationID  string   `json:"applicationId,omitempty"`
	SignedFiles    []string `json:"signedFiles"`
	Reason         string   `json:"archiveReason,omitempty"`
}
