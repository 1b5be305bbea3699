// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

// PasswordSource supplies the key material for encrypted entries. It is
// consulted each time an encrypted entry is read or written.
type PasswordSource interface {
	Password(entry string) ([]byte, error)
}

// StaticPassword uses the same password for every entry.
type StaticPassword []byte

func (p StaticPassword) Password(string) ([]byte, error) { return []byte(p), nil }

// PasswordFunc adapts a function to PasswordSource.
type PasswordFunc func(entry string) ([]byte, error)

func (f PasswordFunc) Password(entry string) ([]byte, error) { return f(entry) }

func passwordFor(src PasswordSource, entry string) ([]byte, error) {
	if src == nil {
		return nil, ErrPasswordRequired
	}
	pwd, err := src.Password(entry)
	if err != nil {
		return nil, err
	}
	if len(pwd) == 0 {
		return nil, ErrPasswordRequired
	}
	return pwd, nil
}
