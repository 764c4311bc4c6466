// Package auth protects the mutating HTTP routes with Basic auth against
// a static set of bcrypt-hashed credentials.
package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Users maps usernames to bcrypt password hashes.
type Users map[string]string

// ParseUsers parses "user1:hash1,user2:hash2" into Users. An empty string
// yields an empty map, which disables authentication.
func ParseUsers(s string) (Users, error) {
	users := make(Users)
	if strings.TrimSpace(s) == "" {
		return users, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		// Split on the first colon; bcrypt hashes use '$' separators.
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry %d (missing ':')", len(users)+1)
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or hash in entry %d", len(users)+1)
		}

		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %q: not a bcrypt hash: %w", username, err)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in API_AUTH_USERS", username)
		}

		users[username] = hash
	}

	return users, nil
}

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(hash), nil
}

// dummyHash is compared against when the username is unknown so that the
// response time does not reveal which usernames exist.
var dummyHash = func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("\x00invalid"), bcrypt.DefaultCost)
	return h
}()

// Verify reports whether password matches the stored hash for username.
func (u Users) Verify(username, password string) bool {
	hash, ok := u[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
