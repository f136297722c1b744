package generator

import "context"

// Unconfigured stands in for a provider whose credentials are missing.
// The server still starts; every call fails with ErrNotConfigured.
type Unconfigured struct {
	Provider string
}

// Name implements Generator.
func (u Unconfigured) Name() string {
	return u.Provider
}

// Submit implements Generator.
func (u Unconfigured) Submit(context.Context, Request) (Result, error) {
	return Result{}, ErrNotConfigured
}

// Poll implements Generator.
func (u Unconfigured) Poll(context.Context, string) (PollResult, error) {
	return PollResult{}, ErrNotConfigured
}

var _ Generator = Unconfigured{}
