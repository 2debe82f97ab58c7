package models

import "time"

type KeyState string

const (
	KeyStateNone   KeyState = "no_key"
	KeyStateLocked KeyState = "key_locked"
	KeyStateReady  KeyState = "key_ready"
)

// PublicJWK is an EC public key in JSON Web Key form. It has no "d" member and
// therefore cannot carry private key material.
type PublicJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
}

// WrappedKey is the AEAD-sealed private signing key plus everything needed to
// re-derive the wrapping key except the passphrase.
type WrappedKey struct {
	Version    uint32 `json:"version"`
	KDF        string `json:"kdf"`
	Iterations uint32 `json:"iterations"`
	Salt       []byte `json:"salt"`
	Cipher     string `json:"cipher"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeyRecord is the single persisted key bundle of a device.
type KeyRecord struct {
	DeviceID          string     `json:"device_id"`
	KeyVersion        string     `json:"key_version"`
	WrappedPrivateKey WrappedKey `json:"wrapped_private_key"`
	PublicKey         PublicJWK  `json:"public_key"`
	CreatedAt         time.Time  `json:"created_at"`
}

type KeyInfo struct {
	HasKeys    bool       `json:"has_keys"`
	State      KeyState   `json:"state"`
	DeviceID   string     `json:"device_id,omitempty"`
	KeyVersion string     `json:"key_version,omitempty"`
	PublicKey  *PublicJWK `json:"public_key,omitempty"`
	Created    time.Time  `json:"created,omitempty"`
}

type PetitionMeta struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SignerFields are the values the signer declares on the petition form.
// Timestamp is unix milliseconds; zero means "now" at signing time.
type SignerFields struct {
	Name           string `json:"name"`
	IDNumber       string `json:"id_number"`
	Phone          string `json:"phone"`
	Constituency   string `json:"constituency"`
	Ward           string `json:"ward"`
	PollingStation string `json:"polling_station"`
	Timestamp      int64  `json:"timestamp"`
}

// SignaturePayload is the canonical structure that gets serialized and signed.
// Field order is the serialization order.
type SignaturePayload struct {
	Version        int    `json:"v"`
	Context        string `json:"context"`
	PetitionID     string `json:"petition_id"`
	PetitionTitle  string `json:"petition_title"`
	Name           string `json:"name"`
	IDNumber       string `json:"id_number"`
	Phone          string `json:"phone"`
	Constituency   string `json:"constituency"`
	Ward           string `json:"ward"`
	PollingStation string `json:"polling_station"`
	Timestamp      int64  `json:"timestamp"`
	KeyVersion     string `json:"key_version"`
	DeviceID       string `json:"device_id"`
}

type SignatureResult struct {
	Payload      string    `json:"payload"`
	Signature    string    `json:"signature"`
	PayloadHash  string    `json:"payload_hash"`
	PublicKeyJWK PublicJWK `json:"public_key_jwk"`
	KeyVersion   string    `json:"key_version"`
	DeviceID     string    `json:"device_id"`
	Timestamp    int64     `json:"timestamp"`
}

type Verification struct {
	IsValid   bool              `json:"is_valid"`
	Payload   *SignaturePayload `json:"payload,omitempty"`
	Context   string            `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// KeyBackup is the public-only export artifact. It deliberately has no field
// able to hold wrapped key bytes or a passphrase.
type KeyBackup struct {
	Format           string    `json:"format"`
	Version          int       `json:"version"`
	DeviceID         string    `json:"device_id"`
	KeyVersion       string    `json:"key_version"`
	KeyID            string    `json:"key_id"`
	Algorithm        string    `json:"algorithm"`
	PublicKey        PublicJWK `json:"public_key"`
	FingerprintWords []string  `json:"fingerprint_words"`
	CreatedAt        time.Time `json:"created_at"`
	ExportedAt       time.Time `json:"exported_at"`
}

type SignatureReceipt struct {
	Code            string    `json:"code"`
	PetitionID      string    `json:"petition_id"`
	SignatureDigest string    `json:"signature_digest"`
	KeyVersion      string    `json:"key_version"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	// RenewalCount is zero for a first issue and grows by one per renewal.
	RenewalCount int        `json:"renewal_count"`
	RenewedAt    *time.Time `json:"renewed_at,omitempty"`
}
