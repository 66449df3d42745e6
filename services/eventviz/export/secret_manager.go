// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// ErrSecretNotFound is returned when a secret is unset or empty.
var ErrSecretNotFound = errors.New("secret not found")

// SecretBackend retrieves secrets by key.
//
// Thread Safety: Implementations must be safe for concurrent use.
type SecretBackend interface {
	// GetSecret retrieves a secret by key.
	//
	// Outputs:
	//   - string: The secret value.
	//   - error: Non-nil if the secret cannot be retrieved (including ErrSecretNotFound).
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvBackend reads secrets from environment variables with TTL-based caching.
//
// Thread Safety: Safe for concurrent use via sync.RWMutex.
type EnvBackend struct {
	mu     sync.RWMutex
	cache  map[string]cachedSecret
	ttl    time.Duration
	getenv func(string) string
}

type cachedSecret struct {
	value     string
	fetchedAt int64 // Unix milliseconds UTC
}

// NewEnvBackend creates a secret backend that reads from environment variables.
//
// Inputs:
//   - ttl: How long to cache secrets before re-reading from the environment.
//     Use 0 for no caching.
func NewEnvBackend(ttl time.Duration) *EnvBackend {
	return &EnvBackend{
		cache:  make(map[string]cachedSecret),
		ttl:    ttl,
		getenv: os.Getenv,
	}
}

// GetSecret retrieves a secret from the environment, using the cache if fresh.
func (e *EnvBackend) GetSecret(ctx context.Context, key string) (string, error) {
	if ctx.Err() != nil {
		return "", fmt.Errorf("retrieving secret %q: %w", key, ctx.Err())
	}

	now := time.Now().UnixMilli()

	if e.ttl > 0 {
		e.mu.RLock()
		if cached, ok := e.cache[key]; ok {
			age := time.Duration(now-cached.fetchedAt) * time.Millisecond
			if age < e.ttl {
				e.mu.RUnlock()
				if cached.value == "" {
					return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
				}
				return cached.value, nil
			}
		}
		e.mu.RUnlock()
	}

	value := e.getenv(key)

	if e.ttl > 0 {
		e.mu.Lock()
		e.cache[key] = cachedSecret{value: value, fetchedAt: now}
		e.mu.Unlock()
	}

	if value == "" {
		return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}
	return value, nil
}

// SecretManager hands out secrets sealed in memguard enclaves.
//
// Description:
//
//	A secret fetched from the backend is sealed into an encrypted enclave
//	right away and the plaintext copy is wiped. Callers get the value only
//	inside WithSecret, in a locked buffer destroyed when the callback
//	returns. Enclaves are kept per key until Forget or Destroy.
//
// Thread Safety: Safe for concurrent use.
type SecretManager struct {
	backend SecretBackend

	mu       sync.Mutex
	enclaves map[string]*memguard.Enclave
}

// NewSecretManager creates a secret manager over the environment backend.
func NewSecretManager(cacheTTL time.Duration) *SecretManager {
	return NewSecretManagerWithBackend(NewEnvBackend(cacheTTL))
}

// NewSecretManagerWithBackend creates a secret manager over backend.
func NewSecretManagerWithBackend(backend SecretBackend) *SecretManager {
	return &SecretManager{
		backend:  backend,
		enclaves: make(map[string]*memguard.Enclave),
	}
}

// Seal fetches key from the backend into an enclave, once per key.
func (s *SecretManager) Seal(ctx context.Context, key string) (*memguard.Enclave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enclave, ok := s.enclaves[key]; ok {
		return enclave, nil
	}

	value, err := s.backend.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	buf := []byte(value)
	// NewEnclave wipes buf.
	enclave := memguard.NewEnclave(buf)
	if enclave == nil {
		return nil, fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}
	s.enclaves[key] = enclave
	return enclave, nil
}

// WithSecret calls fn with the plaintext of key.
//
// Description:
//
//	The plaintext lives in a guarded buffer for the duration of fn only;
//	fn must not retain the string.
//
// Outputs:
//   - error: ErrSecretNotFound when the secret is unset, or fn's error.
func (s *SecretManager) WithSecret(ctx context.Context, key string, fn func(secret string) error) error {
	enclave, err := s.Seal(ctx, key)
	if err != nil {
		return err
	}
	locked, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening secret %q: %w", key, err)
	}
	defer locked.Destroy()

	return fn(locked.String())
}

// Forget drops the enclave for key so the next use re-reads the backend.
func (s *SecretManager) Forget(key string) {
	s.mu.Lock()
	delete(s.enclaves, key)
	s.mu.Unlock()
}

// Destroy drops every enclave and wipes memguard's session key material.
func (s *SecretManager) Destroy() {
	s.mu.Lock()
	s.enclaves = make(map[string]*memguard.Enclave)
	s.mu.Unlock()
	memguard.Purge()
}
