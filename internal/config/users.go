package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/rdpd/internal/auth"
	"github.com/breeze-rmm/rdpd/internal/secmem"
)

type usersFile struct {
	Users []struct {
		Name     string         `yaml:"name"`
		Password *secmem.Secret `yaml:"password"`
	} `yaml:"users"`
}

// LoadUsers returns the configured user list: inline users first, then
// the entries of users_file, each in file order.
func (c *Config) LoadUsers() ([]auth.User, error) {
	out := make([]auth.User, 0, len(c.Users))
	for _, u := range c.Users {
		out = append(out, auth.User{Name: u.Name, Password: secmem.NewSecret(u.Password)})
	}
	if c.UsersFile == "" {
		return out, nil
	}
	fromFile, err := LoadUsersFile(c.UsersFile)
	if err != nil {
		return nil, err
	}
	return append(out, fromFile...), nil
}

// LoadUsersFile reads a YAML document of the form
//
//	users:
//	  - name: alice
//	    password: secret
func LoadUsersFile(path string) ([]auth.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var doc usersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}
	out := make([]auth.User, 0, len(doc.Users))
	for _, u := range doc.Users {
		pw := u.Password
		if pw == nil {
			pw = secmem.NewSecret("")
		}
		out = append(out, auth.User{Name: u.Name, Password: pw})
	}
	return out, nil
}
