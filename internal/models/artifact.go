// internal/models/artifact.go
package models

import "time"

type StoredArtifact struct {
	FolderID   string    `json:"folderId"`
	ItemID     string    `json:"itemId,omitempty"`
	FileName   string    `json:"fileName"`
	SizeBytes  int64     `json:"sizeBytes"`
	UploadedAt time.Time `json:"uploadedAt"`
	WebURL     string    `json:"webUrl,omitempty"`
}

// EnvelopeEvent is the canonical form of a provider webhook delivery.
type EnvelopeEvent struct {
	Provider   ProviderKind `json:"provider"`
	EventType  string       `json:"eventType"`
	EnvelopeID string       `json:"envelopeId"`
	Completed  bool         `json:"completed"`
	RawPayload []byte       `json:"-"`
}
