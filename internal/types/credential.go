package types

import "strings"

const redacted = "[redacted]"

// Credential carries the caller's API keys for one run. The keys are only
// reachable through the accessor methods; every formatting path prints a
// redacted marker instead.
type Credential struct {
	openAIKey string
	googleKey string
}

func NewCredential(openAIKey string) Credential {
	return Credential{openAIKey: strings.TrimSpace(openAIKey)}
}

// WithGoogleKey returns a copy that also carries a Google Cloud API key.
func (c Credential) WithGoogleKey(key string) Credential {
	c.googleKey = strings.TrimSpace(key)
	return c
}

func (c Credential) OpenAIKey() string { return c.openAIKey }
func (c Credential) GoogleKey() string { return c.googleKey }

// Empty reports whether no key at all was supplied.
func (c Credential) Empty() bool {
	return c.openAIKey == "" && c.googleKey == ""
}

func (c Credential) String() string   { return redacted }
func (c Credential) GoString() string { return redacted }

func (c Credential) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (c Credential) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
