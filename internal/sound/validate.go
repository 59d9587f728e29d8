package sound

import (
	"net/url"
	"strings"

	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/util"
)

// URLPolicy constrains clip source URLs.
type URLPolicy struct {
	MaxLength int
	Schemes   []string
}

// ValidateName folds name and checks it is a non-empty token of letters,
// digits and underscores. The folded name is returned.
func ValidateName(name string) (string, error) {
	folded := util.Fold(strings.TrimSpace(name))
	if folded == "" {
		return "", newError(ErrValidation, "Sound name is empty")
	}
	if len(folded) > protocol.MaxClipName {
		return "", newError(ErrValidation, "Sound name is longer than %d characters", protocol.MaxClipName)
	}
	for _, r := range folded {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return "", newError(ErrValidation, "Sound names may only contain letters, digits and _")
		}
	}
	return folded, nil
}

// ValidateURL checks raw against p before any transfer is attempted. Hosts
// are checked literally; the worker repeats the check on resolved addresses.
func ValidateURL(raw string, p URLPolicy) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return newError(ErrValidation, "URL is empty")
	}
	if p.MaxLength > 0 && len(raw) > p.MaxLength {
		return newError(ErrValidation, "URL is longer than %d characters", p.MaxLength)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return newError(ErrValidation, "URL is not valid")
	}

	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range p.Schemes {
		if strings.EqualFold(s, scheme) {
			allowed = true
			break
		}
	}
	if !allowed {
		return newError(ErrValidation, "URL scheme %q is not allowed", scheme)
	}
	if u.User != nil {
		return newError(ErrValidation, "URL must not contain credentials")
	}
	if util.IsPrivateHost(u.Hostname()) {
		return newError(ErrValidation, "URL points to a private address")
	}
	return nil
}
