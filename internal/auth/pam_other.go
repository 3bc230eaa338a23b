//go:build !linux || !cgo

package auth

type unsupportedLogin struct{}

// NewSystemLogin returns a login service that always fails; this build
// has no PAM.
func NewSystemLogin(string) LoginService {
	return unsupportedLogin{}
}

func (unsupportedLogin) Authenticate(string, string) error {
	return ErrSystemLoginUnsupported
}
