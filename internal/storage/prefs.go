package storage

import (
	"encoding/json"
	"errors"
)

const (
	KeyPort       = "lanSharePort"
	KeyHostname   = "lanShareHostname"
	KeySavePath   = "lanShareSavePath"
	KeySecretCode = "lanShareSecretCode"
	KeyRunning    = "lanShareServiceRunning"
)

// Prefs stores JSON-encoded values on top of a Store.
type Prefs struct {
	store Store
}

func NewPrefs(store Store) *Prefs {
	return &Prefs{store: store}
}

// Load decodes the value at key into v. It reports false if the key is absent.
func (p *Prefs) Load(key string, v interface{}) (bool, error) {
	raw, err := p.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Prefs) Save(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.store.Set(key, string(raw))
}

// LoadString reads a string that older releases may have stored raw instead of
// JSON-encoded. Raw values are rewritten in JSON form.
func (p *Prefs) LoadString(key string) (string, bool, error) {
	raw, err := p.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s, true, nil
	}

	logger.WithField("key", key).Info("migrating legacy raw string value")
	if err := p.Save(key, raw); err != nil {
		logger.WithError(err).WithField("key", key).Warn("could not migrate legacy value")
	}
	return raw, true, nil
}
