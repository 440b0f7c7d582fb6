/*
Package security provides at-rest encryption for burrow's signing-key
material and any encrypted configuration values, using AES-256-GCM.

Transport security (TLS) is the HTTP front end's concern. No other
package in this module calls this one: pkg/auth and pkg/config take
the JWT signing keys from configuration as given, with no
encrypted-at-rest option.

# Master encryption key

A single 32-byte key, derived via DeriveKeyFromMasterSecret from an
operator-supplied secret (environment variable or KMS-delivered
value), is installed with SetMasterEncryptionKey. All
EncryptAtRest/DecryptAtRest calls use this key.

# Usage

	key := security.DeriveKeyFromMasterSecret(os.Getenv("BURROW_MASTER_SECRET"))
	security.SetMasterEncryptionKey(key)

	ciphertext, _ := security.EncryptAtRest(signingKeyBytes)
	// ... persist ciphertext ...
	plaintext, _ := security.DecryptAtRest(ciphertext)
*/
package security
