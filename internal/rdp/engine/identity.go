package engine

import (
	"golang.org/x/text/encoding/unicode"
)

// Identity carries the credentials a client supplied during negotiation.
// Each field holds raw UTF-16LE bytes as sent on the wire; nil and empty
// both mean absent.
type Identity struct {
	User     []byte
	Domain   []byte
	Password []byte
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeUTF16 converts a UTF-16LE buffer to a string. Empty or
// undecodable input yields "".
func DecodeUTF16(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

// EncodeUTF16 is the inverse of DecodeUTF16, for drivers and tests.
func EncodeUTF16(s string) []byte {
	if s == "" {
		return nil
	}
	out, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return out
}

// Credentials decodes the identity into a combined user name and a
// password. A domain is folded in as DOMAIN\user.
func (id *Identity) Credentials() (username, password string) {
	if id == nil {
		return "", ""
	}
	user := DecodeUTF16(id.User)
	domain := DecodeUTF16(id.Domain)
	password = DecodeUTF16(id.Password)
	if domain != "" {
		return domain + `\` + user, password
	}
	return user, password
}
