package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
)

// SignRequest computes the REST request signature per §4.3:
//
//	Signature = Base64( HMAC-SHA512( secret_bytes, path_bytes || SHA256( nonce_ascii || body ) ) )
//	secret_bytes = Base64-decode(secret)
//
// Grounded on the message-concatenation-then-HMAC-then-base64 shape of the
// teacher's L2 request signer, generalized from HMAC-SHA256 to the
// SHA512/SHA256-digest construction this exchange's REST API requires.
func SignRequest(secret, path, nonceASCII, body string) (string, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}

	inner := sha256.Sum256([]byte(nonceASCII + body))

	mac := hmac.New(sha512.New, secretBytes)
	mac.Write([]byte(path))
	mac.Write(inner[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
