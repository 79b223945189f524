package session

import (
	"strconv"
	"time"
)

// Fingerprint is the (ip, browser, os) tuple that identifies a device for blocking purposes.
type Fingerprint struct {
	IP      string `json:"ip"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// Equal reports whether all three components match exactly.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.IP == other.IP && f.Browser == other.Browser && f.OS == other.OS
}

// IsZero reports whether no component is set.
func (f Fingerprint) IsZero() bool {
	return f.IP == "" && f.Browser == "" && f.OS == ""
}

// Session is one known device of a user.
type Session struct {
	ID          string
	UserID      string
	Fingerprint Fingerprint
	Blocked     bool
	LastActive  time.Time
	CreatedAt   time.Time
}

const (
	fieldUser       = "user"
	fieldIP         = "ip"
	fieldBrowser    = "browser"
	fieldOS         = "os"
	fieldBlocked    = "blocked"
	fieldLastActive = "last_active"
	fieldCreatedAt  = "created_at"
)

func (s *Session) fields() map[string]interface{} {
	return map[string]interface{}{
		fieldUser:       s.UserID,
		fieldIP:         s.Fingerprint.IP,
		fieldBrowser:    s.Fingerprint.Browser,
		fieldOS:         s.Fingerprint.OS,
		fieldBlocked:    boolFlag(s.Blocked),
		fieldLastActive: s.LastActive.UnixMilli(),
		fieldCreatedAt:  s.CreatedAt.UnixMilli(),
	}
}

func fromFields(id string, m map[string]string) (*Session, bool) {
	userID, ok := m[fieldUser]
	if !ok || userID == "" {
		return nil, false
	}
	return &Session{
		ID:     id,
		UserID: userID,
		Fingerprint: Fingerprint{
			IP:      m[fieldIP],
			Browser: m[fieldBrowser],
			OS:      m[fieldOS],
		},
		Blocked:    m[fieldBlocked] == "1",
		LastActive: parseMillis(m[fieldLastActive]),
		CreatedAt:  parseMillis(m[fieldCreatedAt]),
	}, true
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
