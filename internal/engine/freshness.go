package engine

import "sync"

// FreshnessIndex issues per-target monotonic tokens so the safety gate can
// detect decisions superseded by a newer verdict before execution began.
type FreshnessIndex struct {
	mu     sync.Mutex
	tokens map[string]uint64
}

// NewFreshnessIndex creates an empty index.
func NewFreshnessIndex() *FreshnessIndex {
	return &FreshnessIndex{tokens: make(map[string]uint64)}
}

// Next increments and returns the target's token. Each new verdict for a
// target takes the next token, invalidating in-flight decisions.
func (f *FreshnessIndex) Next(target string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[target]++
	return f.tokens[target]
}

// Current returns the latest token issued for the target.
func (f *FreshnessIndex) Current(target string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[target]
}

// Export copies the token map for persistence. Without it a restart would
// reset every target to zero and reject archived escalations as superseded.
func (f *FreshnessIndex) Export() map[string]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]uint64, len(f.tokens))
	for target, token := range f.tokens {
		out[target] = token
	}
	return out
}

// Import restores previously exported tokens, keeping whichever token is
// higher when a target already has one.
func (f *FreshnessIndex) Import(tokens map[string]uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for target, token := range tokens {
		if token > f.tokens[target] {
			f.tokens[target] = token
		}
	}
}
