package cryptotest

import "errors"

// NoopService passes tokens through without encryption. Test use only.
type NoopService struct{}

func (NoopService) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (NoopService) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

// FailingService fails every Decrypt call, simulating a rotated key.
type FailingService struct{ NoopService }

func (FailingService) Decrypt(string) (string, error) {
	return "", errors.New("cipher: message authentication failed")
}
