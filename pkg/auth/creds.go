package auth

import (
	"strings"
	"sync"
)

// CredentialSet is the runtime set of authorized credentials. Loaded
// from configuration at startup and extended when an admin approves an
// access request.
type CredentialSet struct {
	mu      sync.RWMutex
	numbers map[string]struct{}
}

// NewCredentialSet builds a set from the configured numbers, trimming
// whitespace and dropping empties.
func NewCredentialSet(numbers []string) *CredentialSet {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return &CredentialSet{numbers: set}
}

// Contains reports whether number is authorized.
func (c *CredentialSet) Contains(number string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.numbers[number]
	return ok
}

// Add appends number to the authorized set.
func (c *CredentialSet) Add(number string) {
	number = strings.TrimSpace(number)
	if number == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numbers[number] = struct{}{}
}

// List returns a snapshot of the set.
func (c *CredentialSet) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.numbers))
	for n := range c.numbers {
		out = append(out, n)
	}
	return out
}

// Len returns the number of authorized credentials.
func (c *CredentialSet) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.numbers)
}
