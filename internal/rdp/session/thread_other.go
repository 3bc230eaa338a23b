//go:build !linux

package session

func setThreadName(string) {}
