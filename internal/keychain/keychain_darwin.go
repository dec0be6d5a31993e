//go:build darwin

package keychain

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

// ServiceName is the Keychain service attribute shared by all gateboot secrets.
const ServiceName = "com.gateboot"

// SystemStore keeps secrets in the macOS login Keychain.
type SystemStore struct {
	service string
}

func NewSystemStore() *SystemStore {
	return &SystemStore{service: ServiceName}
}

func (s *SystemStore) Set(key, value string) error {
	// The Keychain has no upsert; replace by delete + add.
	_ = s.Delete(key)

	item := gokeychain.NewGenericPassword(s.service, key, "gateboot: "+key, []byte(value), "")
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)
	if err := gokeychain.AddItem(item); err != nil {
		return fmt.Errorf("storing secret %q: %w", key, err)
	}
	return nil
}

func (s *SystemStore) Get(key string) (string, error) {
	data, err := gokeychain.GetGenericPassword(s.service, key, "", "")
	switch {
	case errors.Is(err, gokeychain.ErrorItemNotFound):
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	case err != nil:
		return "", fmt.Errorf("reading secret %q: %w", key, err)
	case len(data) == 0:
		// GetGenericPassword reports a missing item as empty data, not an error.
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return string(data), nil
}

func (s *SystemStore) List() ([]string, error) {
	accounts, err := gokeychain.GetGenericPasswordAccounts(s.service)
	if errors.Is(err, gokeychain.ErrorItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	return accounts, nil
}

func (s *SystemStore) Delete(key string) error {
	err := gokeychain.DeleteGenericPasswordItem(s.service, key)
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("deleting secret %q: %w", key, err)
	}
	return nil
}
