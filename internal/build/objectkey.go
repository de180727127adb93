package build

import (
	"crypto/rand"
	"math/big"
)

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// TokenLength is the size of the random part of uploaded object keys.
	TokenLength = 10
)

// RandomToken returns n characters drawn uniformly from [A-Z0-9].
func RandomToken(n int) (string, error) {
	limit := big.NewInt(int64(len(tokenAlphabet)))
	token := make([]byte, n)
	for i := range token {
		index, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		token[i] = tokenAlphabet[index.Int64()]
	}
	return string(token), nil
}

// ObjectKey appends the host identity and token to the artifact file name so
// concurrent builds sharing a bucket never overwrite each other.
func ObjectKey(artifactName, hostIdentity, token string) string {
	return artifactName + "-" + hostIdentity + "-" + token + ".tar"
}
