package policy

import (
	"errors"
	"strings"

	"github.com/Rev4nchist/agent-arch/internal/memory"
)

// SensitivePlaceholder replaces SECRET fact values wherever facts are rendered.
const SensitivePlaceholder = "[SENSITIVE - Available on request]"

var ErrSecretFact = errors.New("policy: secret facts cannot be indexed")

// IndexableFact returns the text of a fact that may be sent to the vector
// provider. SECRET facts are rejected.
func IndexableFact(f memory.Fact) (string, error) {
	if f.IsSecret() {
		return "", ErrSecretFact
	}
	text := strings.TrimSpace(f.Key) + ": " + strings.TrimSpace(f.Value)
	redacted, _ := RedactPII(text)
	return redacted, nil
}

// RenderFact formats a fact for prompt context. Only the key of a SECRET
// fact is ever rendered.
func RenderFact(f memory.Fact) string {
	if f.IsSecret() {
		return f.Key + ": " + SensitivePlaceholder
	}
	return f.Key + ": " + f.Value
}
