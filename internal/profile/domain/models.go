// Package domain contains the derived per-creator formula affinity profile.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// CreatorProfile lists the formulas that work and don't work for one
// creator. Derived only: always recomputable from the feedback stream,
// never authoritative.
type CreatorProfile struct {
	UserID                  string         `gorm:"primaryKey;type:text"`
	SuccessfulFormulas      datatypes.JSON `gorm:"type:jsonb"`
	UnderperformingFormulas datatypes.JSON `gorm:"type:jsonb"`
	LastUpdated             time.Time      `gorm:"not null"`
	CreatedAt               time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreatorProfile) TableName() string { return "creator_profiles" }

// Successful decodes the successful formula code list.
func (p *CreatorProfile) Successful() ([]string, error) {
	return decodeCodes(p.SuccessfulFormulas)
}

// Underperforming decodes the underperforming formula code list.
func (p *CreatorProfile) Underperforming() ([]string, error) {
	return decodeCodes(p.UnderperformingFormulas)
}

func decodeCodes(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// EncodeCodes marshals a code list for storage. An empty list is stored as
// an empty JSON array, not NULL, so readers never branch on nil.
func EncodeCodes(codes []string) (datatypes.JSON, error) {
	if codes == nil {
		codes = []string{}
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
