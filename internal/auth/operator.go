package auth

import (
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	"shrike/internal/support"
)

var (
	operatorOnce sync.Once
	operatorName string
	operatorHash []byte
)

func loadOperator() {
	operatorName = support.GetEnv("OPERATOR_USERNAME", "operator")

	if hash := support.GetEnv("OPERATOR_PASSWORD_HASH", ""); hash != "" {
		operatorHash = []byte(hash)
		return
	}

	password := support.GetEnv("OPERATOR_PASSWORD", "")
	if password == "" {
		log.Warn("No operator password configured, login is disabled")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash operator password", "error", err)
		return
	}
	operatorHash = hash
}

// VerifyOperator checks the given credentials against the configured
// operator account.
func VerifyOperator(username, password string) error {
	operatorOnce.Do(loadOperator)

	if len(operatorHash) == 0 {
		return errors.New("login disabled: no operator password configured")
	}
	if username != operatorName {
		return errors.New("unknown operator")
	}
	if err := bcrypt.CompareHashAndPassword(operatorHash, []byte(password)); err != nil {
		return errors.New("invalid credentials")
	}
	return nil
}

// ResetOperatorForTests clears the cached operator credentials.
func ResetOperatorForTests() {
	operatorOnce = sync.Once{}
	operatorName = ""
	operatorHash = nil
}
