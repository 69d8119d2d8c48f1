package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arenvale/sessionstore"
)

// sessionRecord is the row shape for one session. expires_at is nullable:
// NULL means the session never expires. The caller payload is flattened to
// a JSON text column; the store never indexes into it.
type sessionRecord struct {
	ID           string     `gorm:"primaryKey;size:64"`
	UserID       string     `gorm:"size:64;index;not null"`
	RefreshToken string     `gorm:"size:512"`
	Data         string     `gorm:"type:text"`
	UserAgent    string     `gorm:"size:512"`
	DeviceName   string     `gorm:"size:128"`
	IPAddress    string     `gorm:"size:64"`
	ExpiresAt    *time.Time `gorm:"index"`
	LastActive   time.Time  `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

func toRecord(s *sessionstore.Session) (*sessionRecord, error) {
	data := ""
	if s.Data != nil {
		raw, err := json.Marshal(s.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: encode payload: %v", sessionstore.ErrCorruptRecord, err)
		}
		data = string(raw)
	}

	rec := &sessionRecord{
		ID:           s.ID,
		UserID:       s.UserID,
		RefreshToken: s.RefreshToken,
		Data:         data,
		UserAgent:    s.UserAgent,
		DeviceName:   s.DeviceName,
		IPAddress:    s.IPAddress,
		LastActive:   s.LastActive,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if !s.ExpiresAt.IsZero() {
		t := s.ExpiresAt
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func fromRecord(rec *sessionRecord) (*sessionstore.Session, error) {
	s := &sessionstore.Session{
		ID:           rec.ID,
		UserID:       rec.UserID,
		RefreshToken: rec.RefreshToken,
		UserAgent:    rec.UserAgent,
		DeviceName:   rec.DeviceName,
		IPAddress:    rec.IPAddress,
		LastActive:   rec.LastActive,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.ExpiresAt != nil {
		s.ExpiresAt = *rec.ExpiresAt
	}
	if rec.Data != "" {
		if err := json.Unmarshal([]byte(rec.Data), &s.Data); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", sessionstore.ErrCorruptRecord, err)
		}
	}
	return s, nil
}
