package server

import (
	"fmt"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
)

// loadSigningKeys turns the configured keys into signing keys, active first.
func loadSigningKeys(cfg *config.Config) ([]*auth.SigningKey, error) {
	var keys []*auth.SigningKey
	for _, kc := range cfg.Keys() {
		var (
			k   *auth.SigningKey
			err error
		)
		switch kc.Algorithm {
		case "", "HS256":
			k, err = auth.NewHMACKey(kc.ID, []byte(kc.Secret))
		case "RS256":
			var pemBytes []byte
			if pemBytes, err = kc.ReadPrivateKey(); err == nil {
				k, err = auth.NewRSAKey(kc.ID, pemBytes)
			}
		default:
			err = fmt.Errorf("unsupported algorithm %q", kc.Algorithm)
		}
		if err != nil {
			return nil, fmt.Errorf("signing key %q: %w", kc.ID, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func buildKeyRing(cfg *config.Config) (*auth.KeyRing, error) {
	keys, err := loadSigningKeys(cfg)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("key ring: %w", common.ErrNoSigningKey)
	}
	return auth.NewKeyRing(keys[0], auth.KeyRingOptions{
		Grace:       cfg.KeyGracePeriod,
		MaxPrevious: cfg.MaxPreviousKeys,
	}, keys[1:]...)
}

// reloadKeys rotates ring to the first key of cfg. Other configured keys
// are ignored; the ring already holds whatever it retired.
func reloadKeys(ring *auth.KeyRing, cfg *config.Config) (rotated bool, err error) {
	keys, err := loadSigningKeys(cfg)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, fmt.Errorf("key reload: %w", common.ErrNoSigningKey)
	}
	if ring.Active().ID == keys[0].ID {
		return false, nil
	}
	if err := ring.Rotate(keys[0]); err != nil {
		return false, err
	}
	return true, nil
}
