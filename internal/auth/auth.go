// Package auth decides whether a set of client credentials may open a
// session, against the host login service or the configured user list.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"os/user"

	"github.com/breeze-rmm/rdpd/internal/logging"
	"github.com/breeze-rmm/rdpd/internal/metrics"
	"github.com/breeze-rmm/rdpd/internal/secmem"
)

// ErrSystemLoginUnsupported is returned by the system login service on
// platforms or builds without PAM.
var ErrSystemLoginUnsupported = errors.New("auth: system login is not supported on this build")

// User is a configured account. The list is ordered and may repeat names;
// the first matching entry wins.
type User struct {
	Name     string
	Password *secmem.Secret
}

// LoginService validates credentials against the host's login stack.
// A nil error means authenticated and the account is usable.
type LoginService interface {
	Authenticate(login, password string) error
}

// Method names the path that produced an authentication outcome.
type Method string

const (
	MethodSystemLogin Method = "system_login"
	MethodUserList    Method = "user_list"
	MethodNone        Method = "none"
)

// Options configures a Verifier.
type Options struct {
	// UseSystemLogin enables the login-service path for the local account.
	UseSystemLogin bool
	LoginService   LoginService
	// LocalLoginName returns the login name of the account running the
	// server. Defaults to os/user.Current.
	LocalLoginName func() (string, error)
	Users          []User
	Logger         *slog.Logger
}

// Verifier checks credentials. It is safe for concurrent use; its user
// list is copied at construction and never modified.
type Verifier struct {
	useSystemLogin bool
	login          LoginService
	localLogin     func() (string, error)
	users          []User
	log            *slog.Logger
}

func NewVerifier(opts Options) *Verifier {
	v := &Verifier{
		useSystemLogin: opts.UseSystemLogin,
		login:          opts.LoginService,
		localLogin:     opts.LocalLoginName,
		users:          append([]User(nil), opts.Users...),
		log:            opts.Logger,
	}
	if v.localLogin == nil {
		v.localLogin = currentLoginName
	}
	if v.log == nil {
		v.log = logging.L("auth")
	}
	return v
}

// Authenticate reports whether the credentials are accepted.
func (v *Verifier) Authenticate(rawUsername, password string) bool {
	_, ok := v.Check(rawUsername, password)
	return ok
}

// Check is Authenticate that also names the path that decided.
//
// The login service is consulted only when it is enabled and the
// normalized name is the server's own login; a failure there falls
// through to the user list. The user list is scanned in order, skipping
// entries without a password; only the first entry whose name matches has
// its password compared.
func (v *Verifier) Check(rawUsername, password string) (Method, bool) {
	username := NormalizeLoginName(rawUsername)
	v.log.Debug("authenticating login",
		"rawUser", rawUsername,
		"user", username,
		"passwordLength", len(password),
	)

	if v.useSystemLogin {
		if ok := v.checkSystemLogin(username, password); ok {
			metrics.AuthAttempts.WithLabelValues(string(MethodSystemLogin), metrics.Result(true)).Inc()
			v.log.Debug("system login succeeded", "user", username)
			return MethodSystemLogin, true
		}
	}

	for _, u := range v.users {
		if u.Password.Empty() {
			v.log.Warn("skipping configured user with empty password", "user", u.Name)
			continue
		}
		if !MatchesLoginName(username, u.Name) {
			continue
		}
		if u.Password.Equal(password) {
			metrics.AuthAttempts.WithLabelValues(string(MethodUserList), metrics.Result(true)).Inc()
			v.log.Debug("user authenticated", "user", username)
			return MethodUserList, true
		}
		break
	}

	metrics.AuthAttempts.WithLabelValues(string(MethodNone), metrics.Result(false)).Inc()
	v.log.Warn("authentication failed", "user", rawUsername)
	return MethodNone, false
}

func (v *Verifier) checkSystemLogin(username, password string) bool {
	local, err := v.localLogin()
	if err != nil {
		v.log.Warn("cannot determine local login name", "error", err)
		return false
	}
	if !MatchesLoginName(username, local) {
		return false
	}
	if v.login == nil {
		v.log.Warn("system login enabled without a login service")
		return false
	}
	v.log.Debug("attempting system login", "login", local)
	if err := v.login.Authenticate(local, password); err != nil {
		metrics.AuthAttempts.WithLabelValues(string(MethodSystemLogin), metrics.Result(false)).Inc()
		v.log.Warn("system login failed", "login", local, "error", err)
		return false
	}
	return true
}

func currentLoginName() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("lookup current user: %w", err)
	}
	return u.Username, nil
}
