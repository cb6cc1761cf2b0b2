// Package storage holds the durable per-browser state of the child
// application: the access token, the in-flight PKCE verifier and an advisory
// snapshot of the signed-in user. It survives redirects to the mother
// provider and back; in-memory state does not.
package storage

import (
	"net/http"
	"sync"
)

type Key string

const (
	KeyAccessToken  Key = "access_token"
	KeyVerifier     Key = "pkce_verifier"
	KeyUserSnapshot Key = "user_data"
	// KeyCSRF holds the token every state-changing form must echo back.
	KeyCSRF Key = "csrf_token"
)

// AllKeys lists every key a local logout must clear.
var AllKeys = []Key{KeyAccessToken, KeyVerifier, KeyUserSnapshot, KeyCSRF}

// Jar is the durable key/value storage of one browser context. Writes are
// durable when Set or Delete returns.
type Jar interface {
	Get(key Key) (string, bool)
	Set(key Key, value string) error
	Delete(keys ...Key) error
}

// Provider opens the Jar of the browser behind a request.
type Provider interface {
	Jar(w http.ResponseWriter, r *http.Request) Jar
}

// MemoryJar is a Jar held in process memory.
type MemoryJar struct {
	mu     sync.RWMutex
	values map[Key]string
}

func NewMemoryJar() *MemoryJar {
	return &MemoryJar{values: make(map[Key]string)}
}

func (j *MemoryJar) Get(key Key) (string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	v, ok := j.values[key]
	return v, ok
}

func (j *MemoryJar) Set(key Key, value string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.values[key] = value
	return nil
}

func (j *MemoryJar) Delete(keys ...Key) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, k := range keys {
		delete(j.values, k)
	}
	return nil
}

// MemoryProvider hands out the same MemoryJar for every request. It models a
// single browser and is meant for tests and local tooling.
type MemoryProvider struct {
	J *MemoryJar
}

func (p MemoryProvider) Jar(http.ResponseWriter, *http.Request) Jar {
	return p.J
}
