package crypto

import (
	"encoding/base64"
)

// IsSaltedEnvelope reports whether encoded decodes to a payload carrying
// the "Salted__" magic, i.e. the current passphrase-framed format as
// opposed to the legacy fixed-key format.
func IsSaltedEnvelope(encoded string) bool {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < len(saltedMagic) {
		return false
	}
	return string(raw[:len(saltedMagic)]) == saltedMagic
}

// DecryptBranchSecret decrypts a stored secret envelope, transparently
// handling the legacy base64-key format (§3 invariant 5,
// src/api/crypto.py:decrypt_with_base64_key). It reports whether the
// legacy path was used so callers can re-encrypt on read.
func DecryptBranchSecret(envelope, passphrase, legacyBase64Key string) (plaintext []byte, usedLegacy bool, err error) {
	if IsSaltedEnvelope(envelope) {
		plaintext, err = DecryptWithPassphrase(envelope, []byte(passphrase))
		return plaintext, false, err
	}
	plaintext, err = DecryptWithBase64Key(envelope, legacyBase64Key)
	return plaintext, true, err
}
