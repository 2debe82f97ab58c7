package securestore

import "recall254/go-core/pkg/models"

func wrappedFrom(salt, nonce, ciphertext []byte) models.WrappedKey {
	return models.WrappedKey{
		Version:    wrapVersion,
		KDF:        KDFName,
		Iterations: MinIterations,
		Salt:       salt,
		Cipher:     CipherName,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
}
