package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MinPasswordLength = 6
	MaxPasswordLength = 128
	MaxUsernameLength = 32
)

var credentialValidator = validator.New()

// CheckRegistration validates sign-up input locally so obvious mistakes fail
// without a round trip. The server remains the authority.
func CheckRegistration(username, password, email string) error {
	if err := checkUsername(username); err != nil {
		return err
	}
	if err := CheckPassword(password); err != nil {
		return err
	}
	if err := credentialValidator.Var(strings.TrimSpace(email), "omitempty,email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

func checkUsername(username string) error {
	u := strings.TrimSpace(username)
	if u == "" || u != username || utf8.RuneCountInString(u) > MaxUsernameLength {
		return ErrInvalidUsername
	}
	for _, r := range u {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidUsername
		}
	}
	return nil
}

// CheckPassword applies the local password policy. Length counts runes.
func CheckPassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if n > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	if looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak only catches the obvious cases.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	allSame, onlyDigits := true, true
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			allSame = false
		}
		if !unicode.IsDigit(r) {
			onlyDigits = false
		}
	}
	if allSame {
		return true
	}
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111":
		return true
	}
	return false
}
