package redistore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arenvale/sessionstore"
)

// Hash field names for the flat session record. Every value is a string:
// timestamps in RFC3339Nano, the payload JSON-stringified, absent optional
// fields stored as the empty string.
const (
	fieldID           = "id"
	fieldUserID       = "user_id"
	fieldRefreshToken = "refresh_token"
	fieldData         = "data"
	fieldExpiresAt    = "expires_at"
	fieldUserAgent    = "user_agent"
	fieldDeviceName   = "device_name"
	fieldIPAddress    = "ip_address"
	fieldLastActive   = "last_active"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

// flattenSession converts a session into alternating field/value pairs for
// HSET.
func flattenSession(s *sessionstore.Session) ([]string, error) {
	data := ""
	if s.Data != nil {
		raw, err := json.Marshal(s.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: encode payload: %v", sessionstore.ErrCorruptRecord, err)
		}
		data = string(raw)
	}

	return []string{
		fieldID, s.ID,
		fieldUserID, s.UserID,
		fieldRefreshToken, s.RefreshToken,
		fieldData, data,
		fieldExpiresAt, encodeTime(s.ExpiresAt),
		fieldUserAgent, s.UserAgent,
		fieldDeviceName, s.DeviceName,
		fieldIPAddress, s.IPAddress,
		fieldLastActive, encodeTime(s.LastActive),
		fieldCreatedAt, encodeTime(s.CreatedAt),
		fieldUpdatedAt, encodeTime(s.UpdatedAt),
	}, nil
}

// parseSession rebuilds a session from a stored hash. Any undecodable field
// is ErrCorruptRecord; corruption never downgrades to not-found.
func parseSession(fields map[string]string) (*sessionstore.Session, error) {
	s := &sessionstore.Session{
		ID:           fields[fieldID],
		UserID:       fields[fieldUserID],
		RefreshToken: fields[fieldRefreshToken],
		UserAgent:    fields[fieldUserAgent],
		DeviceName:   fields[fieldDeviceName],
		IPAddress:    fields[fieldIPAddress],
	}
	if s.ID == "" || s.UserID == "" {
		return nil, fmt.Errorf("%w: missing id or user_id", sessionstore.ErrCorruptRecord)
	}

	if raw := fields[fieldData]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Data); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", sessionstore.ErrCorruptRecord, err)
		}
	}

	var err error
	if s.ExpiresAt, err = decodeTime(fields[fieldExpiresAt]); err != nil {
		return nil, fmt.Errorf("%w: expires_at: %v", sessionstore.ErrCorruptRecord, err)
	}
	if s.LastActive, err = decodeTime(fields[fieldLastActive]); err != nil {
		return nil, fmt.Errorf("%w: last_active: %v", sessionstore.ErrCorruptRecord, err)
	}
	if s.CreatedAt, err = decodeTime(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", sessionstore.ErrCorruptRecord, err)
	}
	if s.UpdatedAt, err = decodeTime(fields[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", sessionstore.ErrCorruptRecord, err)
	}

	return s, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
