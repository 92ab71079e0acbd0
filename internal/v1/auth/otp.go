package auth

import (
	"fmt"

	"github.com/pquerna/otp/totp"
)

// OTPSecret is the per-room TOTP secret shared with authorized workers.
// The server issues and transports it; peers verify codes against it after
// rendezvous, with the server out of the loop.
type OTPSecret struct {
	Secret string // 160-bit secret, base32
	URI    string // otpauth://totp/... provisioning URI
}

// NewOTPSecret generates a room OTP secret and its provisioning URI.
func NewOTPSecret(roomID string) (*OTPSecret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      ServiceName,
		AccountName: roomID,
		SecretSize:  20, // 160 bits
	})
	if err != nil {
		return nil, fmt.Errorf("generate otp secret: %w", err)
	}

	return &OTPSecret{
		Secret: key.Secret(),
		URI:    key.URL(),
	}, nil
}
