package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Floors applied to both configured profiles and parsed hashes.
const (
	floorMemoryKiB  = 8 * 1024
	floorTime       = 1
	floorLanes      = 1
	floorSaltBytes  = 16
	floorKeyBytes   = 16
	phcAlgorithm    = "argon2id"
	phcFieldsLayout = "m=%d,t=%d,p=%d"
)

var (
	// ErrEmptyInput is returned by Hash when the plaintext is empty.
	ErrEmptyInput = errors.New("password: empty input")
	// ErrMalformedHash is returned when an encoded hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnsupportedHash is returned for a well-formed hash of another
	// algorithm or argon2 version.
	ErrUnsupportedHash = errors.New("password: unsupported hash")
)

// Config holds the argon2id cost parameters for one hashing profile.
// Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PrimaryConfig is the profile for account passwords: 64 MiB, 3 passes,
// 4 lanes.
func PrimaryConfig() Config {
	return Config{Memory: 64 * 1024, Time: 3, Parallelism: 4, SaltLength: 16, KeyLength: 32}
}

// RecoveryConfig is the profile for recovery codes: 16 MiB, 2 passes,
// 1 lane. Codes are matched by scanning every unused hash, so each check
// stays cheap.
func RecoveryConfig() Config {
	return Config{Memory: 16 * 1024, Time: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func (c Config) validate() error {
	switch {
	case c.Memory < floorMemoryKiB:
		return fmt.Errorf("password: memory %d KiB below %d", c.Memory, floorMemoryKiB)
	case c.Time < floorTime:
		return fmt.Errorf("password: time %d below %d", c.Time, floorTime)
	case c.Parallelism < floorLanes:
		return fmt.Errorf("password: parallelism %d below %d", c.Parallelism, floorLanes)
	case c.SaltLength < floorSaltBytes:
		return fmt.Errorf("password: salt length %d below %d", c.SaltLength, floorSaltBytes)
	case c.KeyLength < floorKeyBytes:
		return fmt.Errorf("password: key length %d below %d", c.KeyLength, floorKeyBytes)
	}
	return nil
}

// Argon2 hashes and verifies secrets with one profile. It is safe for
// concurrent use.
type Argon2 struct {
	config Config
}

// NewArgon2 returns a hasher for cfg, or an error when cfg is below the
// minimum cost.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

func (a *Argon2) Config() Config { return a.config }

// Hash returns plaintext hashed under a fresh salt, encoded as
// $argon2id$v=19$m=..,t=..,p=..$salt$key. Bytes are hashed as given.
func (a *Argon2) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}
	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	p := phc{
		memory: a.config.Memory,
		time:   a.config.Time,
		lanes:  a.config.Parallelism,
		salt:   salt,
	}
	p.key = p.derive(plaintext, a.config.KeyLength)
	return p.String(), nil
}

// Verify reports whether plaintext matches encoded. It derives with the
// parameters stored in encoded, so hashes from an older profile still
// verify. Anything unparseable verifies false.
func (a *Argon2) Verify(plaintext, encoded string) bool {
	p, err := parsePHC(encoded)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(p.derive(plaintext, uint32(len(p.key))), p.key) == 1
}

// NeedsUpgrade reports whether encoded was produced with a cheaper
// profile than the hasher's.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	weaker := p.memory < a.config.Memory ||
		p.time < a.config.Time ||
		p.lanes < a.config.Parallelism ||
		uint32(len(p.key)) != a.config.KeyLength
	return weaker, nil
}

// phc is one decoded argon2id hash string.
type phc struct {
	memory uint32
	time   uint32
	lanes  uint8
	salt   []byte
	key    []byte
}

func (p phc) derive(plaintext string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(plaintext), p.salt, p.time, p.memory, p.lanes, keyLen)
}

func (p phc) String() string {
	enc := base64.RawStdEncoding
	return "$" + phcAlgorithm +
		fmt.Sprintf("$v=%d$", argon2.Version) +
		fmt.Sprintf(phcFieldsLayout, p.memory, p.time, p.lanes) +
		"$" + enc.EncodeToString(p.salt) +
		"$" + enc.EncodeToString(p.key)
}

func parsePHC(encoded string) (phc, error) {
	var p phc
	// "", algorithm, version, params, salt, key
	seg := strings.Split(encoded, "$")
	if len(seg) != 6 || seg[0] != "" {
		return p, ErrMalformedHash
	}
	if seg[1] != phcAlgorithm {
		return p, ErrUnsupportedHash
	}

	var version int
	if _, err := fmt.Sscanf(seg[2], "v=%d", &version); err != nil {
		return p, ErrMalformedHash
	}
	if version != argon2.Version {
		return p, ErrUnsupportedHash
	}

	n, err := fmt.Sscanf(seg[3], phcFieldsLayout, &p.memory, &p.time, &p.lanes)
	if err != nil || n != 3 {
		return p, ErrMalformedHash
	}
	if p.memory < floorMemoryKiB || p.time < floorTime || p.lanes < floorLanes {
		return p, fmt.Errorf("%w: parameters below minimum", ErrMalformedHash)
	}

	if p.salt, err = decodeB64(seg[4]); err != nil || len(p.salt) < floorSaltBytes {
		return p, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = decodeB64(seg[5]); err != nil || len(p.key) < floorKeyBytes {
		return p, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, nil
}

// decodeB64 accepts unpadded PHC segments as well as padded base64.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
