//go:build !darwin

package keychain

// NewSystemStore returns a MemoryStore off macOS. Secrets set through it
// last only as long as the process.
func NewSystemStore() *MemoryStore {
	return NewMemoryStore()
}
