// ABOUTME: Syntactic validation of per-channel credentials before registration
// ABOUTME: Catches malformed tokens early so setup can re-prompt without burning a retry

package botpool

import (
	"errors"
	"regexp"
	"strings"

	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// ErrInvalidCredential indicates the credential does not match the
// expected shape for its channel.
var ErrInvalidCredential = errors.New("invalid credential for channel")

var (
	// Telegram bot tokens: numeric bot ID, colon, opaque secret.
	telegramTokenRe = regexp.MustCompile(`^(\d+):[A-Za-z0-9_-]{30,}$`)

	// SMS and voice share a provider credential: account SID, auth token,
	// and the provisioned E.164 number.
	phoneCredRe = regexp.MustCompile(`^AC[0-9a-fA-F]{32}:[^:]+:(\+[1-9]\d{6,14})$`)

	// Email credentials: mailbox address, colon, app password.
	emailCredRe = regexp.MustCompile(`^([^:@\s]+@[^:@\s]+\.[^:@\s]+):.+$`)
)

// ValidateCredential checks a plaintext credential against its channel's
// expected format and returns the external identity it implies (bot ID,
// phone number, or mailbox address).
func ValidateCredential(channel store.Channel, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrInvalidCredential
	}

	switch channel {
	case store.ChannelTelegram:
		m := telegramTokenRe.FindStringSubmatch(credential)
		if m == nil {
			return "", ErrInvalidCredential
		}
		return "bot" + m[1], nil
	case store.ChannelSMS, store.ChannelVoice:
		m := phoneCredRe.FindStringSubmatch(credential)
		if m == nil {
			return "", ErrInvalidCredential
		}
		return m[1], nil
	case store.ChannelEmail:
		m := emailCredRe.FindStringSubmatch(credential)
		if m == nil {
			return "", ErrInvalidCredential
		}
		return strings.ToLower(m[1]), nil
	}
	return "", ErrInvalidCredential
}
