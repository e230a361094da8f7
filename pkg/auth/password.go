package auth

import (
	"crypto/rand"
	"io"
	"math/big"
)

// passwordChars is the alphabet GeneratePassword draws from.
var passwordChars = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+,.?/:;{}[]`~")

// GeneratePassword returns a random password whose length falls in
// [minLength, maxLength). Used when provisioning a subject without a
// caller-supplied password; rejection sampling keeps the character
// distribution uniform.
func GeneratePassword(minLength, maxLength int) (string, error) {
	span, err := rand.Int(rand.Reader, big.NewInt(int64(maxLength-minLength)))
	if err != nil {
		return "", err
	}
	length := minLength + int(span.Int64())

	out := make([]byte, length)
	randomData := make([]byte, length+length/4)
	charLen := byte(len(passwordChars))
	maxrb := byte(256 - (256 % len(passwordChars)))
	i := 0
	for {
		if _, err := io.ReadFull(rand.Reader, randomData); err != nil {
			return "", err
		}
		for _, c := range randomData {
			if c >= maxrb {
				continue
			}
			out[i] = passwordChars[c%charLen]
			i++
			if i == length {
				return string(out), nil
			}
		}
	}
}
