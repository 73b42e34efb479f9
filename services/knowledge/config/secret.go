// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// Secret holds a credential encrypted in memory.
//
// Description:
//
//	The plaintext lives in a memguard Enclave and is only decrypted into a
//	locked buffer for the duration of Reveal. String and MarshalYAML never
//	expose it, so a Secret is safe to log or write back to disk.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. An empty value yields nil.
func NewSecret(value string) *Secret {
	if value == "" {
		return nil
	}
	// NewEnclave wipes its input, so hand it a private copy.
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// Empty reports whether s holds no value. A nil Secret is empty.
func (s *Secret) Empty() bool {
	return s == nil || s.enclave == nil
}

// Reveal decrypts the secret. An empty Secret reveals "".
func (s *Secret) Reveal() (string, error) {
	if s.Empty() {
		return "", nil
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// String implements fmt.Stringer without revealing the value.
func (s *Secret) String() string {
	if s.Empty() {
		return ""
	}
	return redacted
}

// UnmarshalYAML seals a scalar value.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	if v == "" || v == redacted {
		s.enclave = nil
		return nil
	}
	s.enclave = memguard.NewEnclave([]byte(v))
	return nil
}

// MarshalYAML writes a placeholder instead of the value.
func (s *Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}
