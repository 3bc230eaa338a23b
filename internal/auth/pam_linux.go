//go:build linux && cgo

package auth

import (
	"fmt"

	"github.com/msteinert/pam/v2"
)

// PAMLogin authenticates against a PAM service, answering the username
// prompt with the login and every hidden prompt with the password.
type PAMLogin struct {
	Service string
}

// NewSystemLogin returns the PAM-backed login service.
func NewSystemLogin(service string) LoginService {
	if service == "" {
		service = "login"
	}
	return PAMLogin{Service: service}
}

func (p PAMLogin) Authenticate(login, password string) error {
	tx, err := pam.StartFunc(p.Service, login, func(style pam.Style, msg string) (string, error) {
		switch style {
		case pam.PromptEchoOn:
			return login, nil
		case pam.PromptEchoOff:
			return password, nil
		default:
			return "", fmt.Errorf("unsupported pam conversation style %d: %s", style, msg)
		}
	})
	if err != nil {
		return fmt.Errorf("pam start: %w", err)
	}
	defer tx.End()

	if err := tx.Authenticate(0); err != nil {
		return fmt.Errorf("pam authenticate: %w", err)
	}
	if err := tx.AcctMgmt(0); err != nil {
		return fmt.Errorf("pam account: %w", err)
	}
	return nil
}
