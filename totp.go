package hostauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"

	"github.com/MrEthical07/hostauth/internal/vault"
)

// totpSecretBytes is the raw secret size; 160 bits matches the SHA1 block
// recommendation of RFC 4226.
const totpSecretBytes = 20

var (
	totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

	errUnknownTOTPAlgorithm = errors.New("unsupported totp algorithm")
	errEmptyTOTPSecret      = errors.New("empty totp secret")
)

func otpAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	}
	return 0, errUnknownTOTPAlgorithm
}

// authenticator generates, seals and checks TOTP secrets for one
// SecondFactorConfig.
type authenticator struct {
	cfg  SecondFactorConfig
	opts hotp.ValidateOpts
	err  error
	ring *vault.KeyRing
}

func newAuthenticator(cfg SecondFactorConfig, ring *vault.KeyRing) *authenticator {
	alg, err := otpAlgorithm(cfg.Algorithm)
	return &authenticator{
		cfg:  cfg,
		opts: hotp.ValidateOpts{Digits: otp.Digits(cfg.Digits), Algorithm: alg},
		err:  err,
		ring: ring,
	}
}

// generate creates a fresh secret for account. It returns the raw bytes
// for sealing, the base32 form shown to the user and the otpauth:// URI
// authenticator apps scan.
func (a *authenticator) generate(account string) (raw []byte, secret, uri string, err error) {
	if a.err != nil {
		return nil, "", "", a.err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.cfg.Issuer,
		AccountName: account,
		Period:      uint(a.cfg.Period),
		SecretSize:  totpSecretBytes,
		Digits:      a.opts.Digits,
		Algorithm:   a.opts.Algorithm,
		Rand:        rand.Reader,
	})
	if err != nil {
		return nil, "", "", err
	}
	secret = strings.TrimRight(key.Secret(), "=")
	raw, err = totpEncoding.DecodeString(secret)
	if err != nil {
		return nil, "", "", err
	}
	return raw, secret, key.URL(), nil
}

func (a *authenticator) step(t time.Time) int64 {
	return t.Unix() / int64(a.cfg.Period)
}

// codeAt is the code for secret at counter step.
func (a *authenticator) codeAt(secret []byte, step int64) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return hotp.GenerateCodeCustom(totpEncoding.EncodeToString(secret), uint64(step), a.opts)
}

// match looks for code in the steps within Skew of now and returns the
// matching step. A code of the wrong shape is a mismatch, not an error.
func (a *authenticator) match(secret []byte, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if !a.wellFormed(code) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errEmptyTOTPSecret
	}

	center := a.step(now)
	for s := center - int64(a.cfg.Skew); s <= center+int64(a.cfg.Skew); s++ {
		if s < 0 {
			continue
		}
		want, err := a.codeAt(secret, s)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, s, nil
		}
	}
	return false, 0, nil
}

func (a *authenticator) wellFormed(code string) bool {
	if len(code) != a.cfg.Digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// seal encrypts raw with the key ring, bound to the owning external id.
func (a *authenticator) seal(raw []byte, externalID string) (string, error) {
	if a.ring == nil {
		return "", ErrEngineNotReady
	}
	return a.ring.Seal(raw, []byte(externalID))
}

// matchSealed opens a stored secret, runs match and wipes the plaintext.
func (a *authenticator) matchSealed(sealed, externalID, code string, now time.Time) (bool, int64, error) {
	if a.ring == nil {
		return false, 0, ErrEngineNotReady
	}
	raw, err := a.ring.Open(sealed, []byte(externalID))
	if err != nil {
		return false, 0, err
	}
	defer clear(raw)
	return a.match(raw, code, now)
}

// TOTPCode returns the code an authenticator app shows at t for a secret
// returned by [Engine.SetupSecondFactor].
func TOTPCode(cfg SecondFactorConfig, secret string, t time.Time) (string, error) {
	if cfg.Period <= 0 || cfg.Digits <= 0 {
		return "", errors.New("totp config: period and digits required")
	}
	alg, err := otpAlgorithm(cfg.Algorithm)
	if err != nil {
		return "", err
	}
	code, err := totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    uint(cfg.Period),
		Digits:    otp.Digits(cfg.Digits),
		Algorithm: alg,
	})
	if err != nil {
		return "", fmt.Errorf("totp secret: %w", err)
	}
	return code, nil
}
