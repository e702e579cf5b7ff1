package network

import (
	"log"
	"strings"

	"github.com/quasilyte/gdata"
)

// TokenStore persists reconnect tokens per server address so a restarted
// client can resume its session. Failures degrade to a fresh join.
type TokenStore struct {
	manager *gdata.Manager
}

// OpenTokenStore initializes on-disk storage. A nil store (on error) is
// safe to pass around; every method tolerates it.
func OpenTokenStore() *TokenStore {
	m, err := gdata.Open(gdata.Config{
		AppName: "stormgrid",
	})
	if err != nil {
		log.Printf("Warning: Could not initialize token storage: %v", err)
		return nil
	}
	return &TokenStore{manager: m}
}

// Load returns the stored token for a server address, or "".
func (s *TokenStore) Load(address string) string {
	if s == nil || s.manager == nil {
		return ""
	}
	data, err := s.manager.LoadItem(tokenKey(address))
	if err != nil || data == nil {
		return ""
	}
	return string(data)
}

// Save stores the token for a server address.
func (s *TokenStore) Save(address, token string) {
	if s == nil || s.manager == nil {
		return
	}
	if err := s.manager.SaveItem(tokenKey(address), []byte(token)); err != nil {
		log.Printf("Warning: Could not save reconnect token: %v", err)
	}
}

func tokenKey(address string) string {
	// Item names become filenames; strip the characters gdata rejects.
	replacer := strings.NewReplacer(":", "_", "/", "_")
	return "token_" + replacer.Replace(address)
}
