package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SettingField names one factor toggle in the settings row. Values double as
// the hash field names.
type SettingField string

const (
	SettingAuthenticator    SettingField = "authenticator"
	SettingPasskey          SettingField = "passkey"
	SettingOneTimeCode      SettingField = "one_time_code"
	SettingSecurityQuestion SettingField = "security_question"
)

var settingFields = []interface{}{
	string(SettingAuthenticator),
	string(SettingPasskey),
	string(SettingOneTimeCode),
	string(SettingSecurityQuestion),
}

// setFactorScript writes one toggle and returns the row as it was before the
// write, so exactly one concurrent caller observes any given transition. When
// the write leaves every toggle off the backup codes go with it.
//
// KEYS[1] settings hash, KEYS[2] unused codes, KEYS[3] used codes;
// ARGV[1] field, ARGV[2] "1" or "0", ARGV[3..6] field names.
const setFactorScript = `
local before = redis.call("HMGET", KEYS[1], ARGV[3], ARGV[4], ARGV[5], ARGV[6])
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
if ARGV[2] == "0" then
  local after = redis.call("HMGET", KEYS[1], ARGV[3], ARGV[4], ARGV[5], ARGV[6])
  for i = 1, 4 do
    if after[i] == "1" then
      return before
    end
  end
  redis.call("DEL", KEYS[2], KEYS[3])
end
return before
`

var setFactorLua = redis.NewScript(setFactorScript)

// Settings is the per-user factor toggle row.
type Settings struct {
	Authenticator    bool
	Passkey          bool
	OneTimeCode      bool
	SecurityQuestion bool
}

// Enabled is the aggregate flag: true when any factor is on.
func (s Settings) Enabled() bool {
	return s.Authenticator || s.Passkey || s.OneTimeCode || s.SecurityQuestion
}

// With returns a copy of s with field set to on.
func (s Settings) With(field SettingField, on bool) Settings {
	switch field {
	case SettingAuthenticator:
		s.Authenticator = on
	case SettingPasskey:
		s.Passkey = on
	case SettingOneTimeCode:
		s.OneTimeCode = on
	case SettingSecurityQuestion:
		s.SecurityQuestion = on
	}
	return s
}

// GetSettings returns the user's toggles. A user without a row has every factor off.
func (s *FactorStore) GetSettings(ctx context.Context, userID string) (Settings, error) {
	m, err := s.redis.HGetAll(ctx, s.settingsKey(userID)).Result()
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return Settings{
		Authenticator:    m[string(SettingAuthenticator)] == "1",
		Passkey:          m[string(SettingPasskey)] == "1",
		OneTimeCode:      m[string(SettingOneTimeCode)] == "1",
		SecurityQuestion: m[string(SettingSecurityQuestion)] == "1",
	}, nil
}

// SetFactor atomically turns one toggle on or off and returns the row before
// and after the write. Other toggles are never rewritten. Turning the last
// toggle off discards the user's backup codes in the same step.
func (s *FactorStore) SetFactor(ctx context.Context, userID string, field SettingField, on bool) (Settings, Settings, error) {
	args := append([]interface{}{string(field), flag(on)}, settingFields...)
	raw, err := setFactorLua.Run(ctx, s.redis, []string{
		s.settingsKey(userID),
		s.backupCodesKey(userID),
		s.usedBackupCodesKey(userID),
	}, args...).Slice()
	if err != nil {
		return Settings{}, Settings{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(raw) != len(settingFields) {
		return Settings{}, Settings{}, fmt.Errorf("%w: unexpected settings reply of %d values", ErrBackend, len(raw))
	}
	isOn := func(v interface{}) bool {
		str, _ := v.(string)
		return str == "1"
	}
	before := Settings{
		Authenticator:    isOn(raw[0]),
		Passkey:          isOn(raw[1]),
		OneTimeCode:      isOn(raw[2]),
		SecurityQuestion: isOn(raw[3]),
	}
	return before, before.With(field, on), nil
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
