package signing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/pkg/models"

	"golang.org/x/text/unicode/norm"
)

const (
	PayloadVersion   = 1
	SignatureContext = "PETITION_SIGNATURE"
)

var ErrNotCanonical = errors.New("payload is not in canonical form")

// Binding ties a payload to the key that signs it.
type Binding struct {
	DeviceID   string
	KeyVersion string
}

// Canonicalize builds the payload and its exact signing bytes. Strings are
// trimmed and NFC-normalized; fields serialize in struct order with no HTML
// escaping, so equal inputs always give byte-identical output.
func Canonicalize(meta models.PetitionMeta, fields models.SignerFields, binding Binding) ([]byte, models.SignaturePayload, error) {
	p := models.SignaturePayload{
		Version:        PayloadVersion,
		Context:        SignatureContext,
		PetitionID:     clean(meta.ID),
		PetitionTitle:  clean(meta.Title),
		Name:           clean(fields.Name),
		IDNumber:       clean(fields.IDNumber),
		Phone:          clean(fields.Phone),
		Constituency:   clean(fields.Constituency),
		Ward:           clean(fields.Ward),
		PollingStation: clean(fields.PollingStation),
		Timestamp:      fields.Timestamp,
		KeyVersion:     clean(binding.KeyVersion),
		DeviceID:       clean(binding.DeviceID),
	}
	if err := checkPayload(p); err != nil {
		return nil, models.SignaturePayload{}, err
	}
	raw, err := encode(p)
	if err != nil {
		return nil, models.SignaturePayload{}, keyerr.New(keyerr.InvalidPayload, "canonicalize", err)
	}
	return raw, p, nil
}

// ParsePayload decodes signed bytes and rejects anything that would not
// re-encode to exactly the same bytes.
func ParsePayload(raw []byte) (models.SignaturePayload, error) {
	var p models.SignaturePayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return models.SignaturePayload{}, fmt.Errorf("%w: %v", ErrNotCanonical, err)
	}
	if dec.More() {
		return models.SignaturePayload{}, fmt.Errorf("%w: trailing data", ErrNotCanonical)
	}
	again, err := encode(p)
	if err != nil {
		return models.SignaturePayload{}, err
	}
	if !bytes.Equal(again, raw) {
		return models.SignaturePayload{}, ErrNotCanonical
	}
	if p.Version != PayloadVersion || p.Context != SignatureContext {
		return models.SignaturePayload{}, fmt.Errorf("%w: unsupported version or context", ErrNotCanonical)
	}
	for _, s := range stringFields(p) {
		if s != clean(s) {
			return models.SignaturePayload{}, fmt.Errorf("%w: unnormalized text", ErrNotCanonical)
		}
	}
	return p, nil
}

func encode(p models.SignaturePayload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func checkPayload(p models.SignaturePayload) error {
	switch {
	case p.PetitionID == "":
		return keyerr.New(keyerr.InvalidPayload, "canonicalize", errors.New("petition id is required"))
	case p.Timestamp <= 0:
		return keyerr.New(keyerr.InvalidPayload, "canonicalize", errors.New("timestamp is required"))
	case p.DeviceID == "" || p.KeyVersion == "":
		return keyerr.New(keyerr.InvalidPayload, "canonicalize", errors.New("key binding is required"))
	}
	return nil
}

func stringFields(p models.SignaturePayload) []string {
	return []string{
		p.PetitionID, p.PetitionTitle, p.Name, p.IDNumber, p.Phone,
		p.Constituency, p.Ward, p.PollingStation, p.KeyVersion, p.DeviceID,
	}
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD")))
}
