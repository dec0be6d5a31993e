// Package keychain stores gateway credentials (provider API keys and the
// like) outside the config file.
//
// On macOS secrets live in the login Keychain as generic passwords under the
// "com.gateboot" service, device-only and never synced. Other platforms fall
// back to an in-memory store.
package keychain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when a secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// Store is the interface for secret storage operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	List() ([]string, error)
	Delete(key string) error
}

// EnvFor resolves env var -> keychain key references into KEY=value pairs,
// sorted by env var name. Missing secrets are reported, not fatal; any other
// store error aborts.
func EnvFor(s Store, refs map[string]string) (env []string, missing []string, err error) {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		val, getErr := s.Get(refs[name])
		if errors.Is(getErr, ErrNotFound) {
			missing = append(missing, name)
			continue
		}
		if getErr != nil {
			return nil, nil, fmt.Errorf("resolving %s: %w", name, getErr)
		}
		env = append(env, name+"="+val)
	}
	return env, missing, nil
}
