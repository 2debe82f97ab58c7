package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"recall254/go-core/pkg/models"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	JWKKeyType   = "EC"
	JWKCurve     = "P-384"
	JWKAlgorithm = "ES384"
	jwkUse       = "sig"

	coordSize         = 48
	keyVersionPrefix  = "kv1"
	keyVersionRawSize = 16
)

var (
	ErrInvalidJWK        = errors.New("invalid public jwk")
	ErrInvalidKeyVersion = errors.New("invalid key version")
)

// PublicJWK renders pub as a P-384 JWK whose kid is its RFC 7638 thumbprint.
func PublicJWK(pub *ecdsa.PublicKey) (models.PublicJWK, error) {
	if pub == nil || pub.Curve != elliptic.P384() {
		return models.PublicJWK{}, fmt.Errorf("%w: curve must be P-384", ErrInvalidJWK)
	}
	raw, err := pub.Bytes()
	if err != nil {
		return models.PublicJWK{}, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	jwk := models.PublicJWK{
		Kty: JWKKeyType,
		Crv: JWKCurve,
		X:   base64.RawURLEncoding.EncodeToString(raw[1 : 1+coordSize]),
		Y:   base64.RawURLEncoding.EncodeToString(raw[1+coordSize:]),
		Alg: JWKAlgorithm,
		Use: jwkUse,
	}
	kid, err := Thumbprint(jwk)
	if err != nil {
		return models.PublicJWK{}, err
	}
	jwk.Kid = kid
	return jwk, nil
}

// ParsePublicJWK decodes jwk and rejects anything that is not an on-curve
// P-384 point.
func ParsePublicJWK(jwk models.PublicJWK) (*ecdsa.PublicKey, error) {
	if jwk.Kty != JWKKeyType {
		return nil, fmt.Errorf("%w: kty %q", ErrInvalidJWK, jwk.Kty)
	}
	if jwk.Crv != JWKCurve {
		return nil, fmt.Errorf("%w: crv %q", ErrInvalidJWK, jwk.Crv)
	}
	if jwk.Alg != "" && jwk.Alg != JWKAlgorithm {
		return nil, fmt.Errorf("%w: alg %q", ErrInvalidJWK, jwk.Alg)
	}
	x, err := decodeCoord(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: x: %v", ErrInvalidJWK, err)
	}
	y, err := decodeCoord(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: y: %v", ErrInvalidJWK, err)
	}
	point := make([]byte, 0, 1+2*coordSize)
	point = append(point, 0x04)
	point = append(point, x...)
	point = append(point, y...)
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P384(), point)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	return pub, nil
}

func decodeCoord(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(b) != coordSize {
		return nil, fmt.Errorf("coordinate length %d", len(b))
	}
	return b, nil
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint over the required
// members in lexicographic order.
func Thumbprint(jwk models.PublicJWK) (string, error) {
	if jwk.Kty == "" || jwk.Crv == "" || jwk.X == "" || jwk.Y == "" {
		return "", fmt.Errorf("%w: missing required members", ErrInvalidJWK)
	}
	canonical, err := json.Marshal(struct {
		Crv string `json:"crv"`
		Kty string `json:"kty"`
		X   string `json:"x"`
		Y   string `json:"y"`
	}{jwk.Crv, jwk.Kty, jwk.X, jwk.Y})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// SameKey reports whether a and b describe the same public point.
func SameKey(a, b models.PublicJWK) bool {
	ta, err := Thumbprint(a)
	if err != nil {
		return false
	}
	tb, err := Thumbprint(b)
	if err != nil {
		return false
	}
	return ta == tb
}

// KeyID is a short stable identifier: base58 of blake2b-256 over the
// uncompressed public point.
func KeyID(jwk models.PublicJWK) (string, error) {
	pub, err := ParsePublicJWK(jwk)
	if err != nil {
		return "", err
	}
	raw, err := pub.Bytes()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return base58.Encode(sum[:]), nil
}

func newKeyVersion(now time.Time, r io.Reader) (string, error) {
	raw := make([]byte, keyVersionRawSize)
	binary.BigEndian.PutUint64(raw[:8], uint64(now.UnixMilli()))
	if _, err := io.ReadFull(r, raw[8:]); err != nil {
		return "", err
	}
	return keyVersionPrefix + base58.Encode(raw), nil
}

// KeyVersionTime extracts the generation instant embedded in a key version.
func KeyVersionTime(version string) (time.Time, error) {
	if !strings.HasPrefix(version, keyVersionPrefix) {
		return time.Time{}, ErrInvalidKeyVersion
	}
	raw, err := base58.Decode(strings.TrimPrefix(version, keyVersionPrefix))
	if err != nil || len(raw) != keyVersionRawSize {
		return time.Time{}, ErrInvalidKeyVersion
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(raw[:8]))).UTC(), nil
}

func generateSigningKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}
