package security

import (
	"encoding/base64"
	"fmt"

	"github.com/gorilla/securecookie"
)

// CookieKeys decodes the configured securecookie hash and block keys. Empty
// values are replaced by random keys and generated reports true; cookies
// issued with generated keys do not survive a restart.
func CookieKeys(hashKey, blockKey string) (hash, block []byte, generated bool, err error) {
	if hashKey == "" {
		hash = securecookie.GenerateRandomKey(64)
		generated = true
	} else if hash, err = base64.StdEncoding.DecodeString(hashKey); err != nil {
		return nil, nil, false, fmt.Errorf("failed to decode hash key: %w", err)
	}

	if blockKey == "" {
		block = securecookie.GenerateRandomKey(32)
		generated = true
	} else if block, err = base64.StdEncoding.DecodeString(blockKey); err != nil {
		return nil, nil, false, fmt.Errorf("failed to decode block key: %w", err)
	}

	if hash == nil || block == nil {
		return nil, nil, false, fmt.Errorf("failed to generate cookie keys")
	}

	return hash, block, generated, nil
}
