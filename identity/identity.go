package identity

import (
	"fmt"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// ProviderLink records a federated identity linked to a local account.
type ProviderLink struct {
	Provider   string    `json:"provider"`    // Provider name, e.g. "google"
	ProviderID string    `json:"provider_id"` // Subject identifier issued by the provider
	LinkedAt   time.Time `json:"linked_at"`
}

// Identity is a user account as seen by the authentication subsystem.
// The full profile is owned by the external user directory; this subsystem
// reads credential material for verification and writes nothing except
// linking a new provider identity on first federated login.
type Identity struct {
	ID           string         `json:"id,omitempty"`           // Unique identifier for the account
	Email        string         `json:"email,omitempty"`        // Account email address
	Username     string         `json:"username,omitempty"`     // Unique username
	PasswordHash string         `json:"-"`                      // Hashed password - never serialize. Empty for OAuth-only accounts
	DisplayName  string         `json:"display_name,omitempty"` // Human readable name
	Providers    []ProviderLink `json:"providers,omitempty"`    // Linked federated identities
	CreatedAt    time.Time      `json:"created_at,omitempty"`   // When the account was created
}

// HasProvider reports whether the identity is linked to the given
// federated identity.
func (i *Identity) HasProvider(provider, providerID string) bool {
	for _, p := range i.Providers {
		if p.Provider == provider && p.ProviderID == providerID {
			return true
		}
	}
	return false
}

// PasswordLogin reports whether the account carries credential material
// for password authentication.
func (i *Identity) PasswordLogin() bool {
	return i.PasswordHash != ""
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
