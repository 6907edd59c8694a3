package vault

import "sync"

// SessionKeys is the process-local table of plaintext private keys, keyed by
// principal id. Keys enter at login (after a one-time Decrypt) and leave at
// logout. The table is never persisted.
type SessionKeys struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewSessionKeys returns an empty session table.
func NewSessionKeys() *SessionKeys {
	return &SessionKeys{keys: make(map[string]string)}
}

// Put stores the plaintext private key for a principal, replacing any
// previous entry.
func (s *SessionKeys) Put(principalID, privateKey string) {
	s.mu.Lock()
	s.keys[principalID] = privateKey
	s.mu.Unlock()
}

// Get returns the plaintext private key for a principal, if present.
func (s *SessionKeys) Get(principalID string) (string, bool) {
	s.mu.RLock()
	key, ok := s.keys[principalID]
	s.mu.RUnlock()
	return key, ok
}

// Remove deletes the principal's key from the table.
func (s *SessionKeys) Remove(principalID string) {
	s.mu.Lock()
	delete(s.keys, principalID)
	s.mu.Unlock()
}

// Count returns the number of live session keys (status introspection).
func (s *SessionKeys) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Keyring binds the at-rest and in-session halves of the vault: Login
// decrypts an encrypted key once and caches the plaintext in the session
// table; Logout evicts it.
type Keyring struct {
	sessions *SessionKeys
}

// NewKeyring creates a Keyring over the given session table.
func NewKeyring(sessions *SessionKeys) *Keyring {
	return &Keyring{sessions: sessions}
}

// Login decrypts encryptedKey under passphrase and stores the plaintext for
// principalID. Propagates ErrUnauthorized / ErrBadFormat from Decrypt.
func (k *Keyring) Login(principalID, encryptedKey, passphrase string) error {
	plain, err := Decrypt(encryptedKey, passphrase)
	if err != nil {
		return err
	}
	k.sessions.Put(principalID, plain)
	return nil
}

// Logout removes the principal's session key.
func (k *Keyring) Logout(principalID string) {
	k.sessions.Remove(principalID)
}

// SigningKey returns the live session key for a principal.
func (k *Keyring) SigningKey(principalID string) (string, bool) {
	return k.sessions.Get(principalID)
}
