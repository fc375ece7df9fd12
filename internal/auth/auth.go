// Package auth implements connect-token issuance: verifying a local
// account against a bcrypt passwd file and handing back a signed token the
// selector presents to the broker when asking for bridge routes.
package auth

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strconv"
	"strings"

	"github.com/jameskeane/bcrypt"
	"github.com/yuntianx454/geph5/internal/exitdir"
)

// Entry is one line of a passwd file: username, bcrypt hash, account tier.
type Entry struct {
	Username string
	Hash     string
	Level    exitdir.AccountLevel
}

// ParsePasswdFile reads "username:bcrypthash:level\n" lines, the same shape
// the local credential store uses for system accounts, plus a trailing
// account-level field.
func ParsePasswdFile(data []byte) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("auth: malformed passwd line %q", line)
		}
		levelNum, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("auth: malformed account level in %q: %w", line, err)
		}
		entries = append(entries, Entry{
			Username: fields[0],
			Hash:     fields[1],
			Level:    exitdir.AccountLevel(levelNum),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Store authenticates usernames/passwords against a loaded passwd file and
// issues connect tokens to whoever verifies.
type Store struct {
	entries    []Entry
	signingKey ed25519.PrivateKey
}

// NewStore returns a Store backed by entries, signing issued tokens with
// signingKey.
func NewStore(entries []Entry, signingKey ed25519.PrivateKey) *Store {
	return &Store{entries: entries, signingKey: signingKey}
}

// ErrInvalidCredentials is returned by Authenticate when the username is
// unknown or the password does not match its stored hash.
var ErrInvalidCredentials = fmt.Errorf("auth: invalid username or password")

// Authenticate verifies username/password and, on success, issues a
// connect token: an opaque string plus a detached signature a broker can
// check against this Store's public key.
func (s *Store) Authenticate(username, password string) (level exitdir.AccountLevel, token string, sig []byte, err error) {
	for _, e := range s.entries {
		if e.Username != username {
			continue
		}
		if !bcrypt.Match(password, e.Hash) {
			return 0, "", nil, ErrInvalidCredentials
		}
		token = username
		sig = ed25519.Sign(s.signingKey, []byte(token))
		return e.Level, token, sig, nil
	}
	return 0, "", nil, ErrInvalidCredentials
}

// PublicKey returns the key a broker uses to verify tokens this Store
// issues.
func (s *Store) PublicKey() ed25519.PublicKey {
	return s.signingKey.Public().(ed25519.PublicKey)
}

// VerifyToken checks a token/signature pair issued by a Store holding the
// private half of pub.
func VerifyToken(pub ed25519.PublicKey, token string, sig []byte) bool {
	return ed25519.Verify(pub, []byte(token), sig)
}
