package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/denverlabs/cococrm/internal/clock"
	"github.com/denverlabs/cococrm/internal/models"
)

// Telegram payload verification failures. Callers outside this package
// only see a boolean or a generic authentication error; these exist for
// logging.
var (
	ErrTelegramDisabled = errors.New("telegram: bot token not configured")
	ErrMissingHash      = errors.New("telegram: payload has no hash")
	ErrBadSignature     = errors.New("telegram: hash mismatch")
	ErrStalePayload     = errors.New("telegram: auth_date outside allowed window")
	ErrMissingAuthDate  = errors.New("telegram: payload has no valid auth_date")
	ErrBadPayload       = errors.New("telegram: malformed payload")
)

// maxClockSkew tolerates auth_date slightly in the future.
const maxClockSkew = 5 * time.Minute

// TelegramPayload is the login widget payload with every value in its
// string form, exactly as it enters the check string.
type TelegramPayload map[string]string

// PayloadFromJSON decodes a widget callback body. Numbers keep their
// literal text, booleans become "true"/"false" and null values are
// dropped. Nested objects are rejected.
func PayloadFromJSON(data []byte) (TelegramPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	payload := make(TelegramPayload, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			payload[k] = val
		case json.Number:
			payload[k] = val.String()
		case bool:
			payload[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("%w: field %q is not a scalar", ErrBadPayload, k)
		}
	}
	return payload, nil
}

// PayloadFromValues builds a payload from the widget's redirect query.
func PayloadFromValues(values url.Values) TelegramPayload {
	payload := make(TelegramPayload, len(values))
	for k, v := range values {
		if len(v) > 0 {
			payload[k] = v[0]
		}
	}
	return payload
}

// CheckString joins every field except hash as key=value, sorted by key,
// separated by newlines.
func (p TelegramPayload) CheckString() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}

// Profile extracts the Telegram identity from a payload.
func (p TelegramPayload) Profile() (models.TelegramProfile, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(p["id"]), 10, 64)
	if err != nil || id <= 0 {
		return models.TelegramProfile{}, fmt.Errorf("%w: invalid id", ErrBadPayload)
	}
	return models.TelegramProfile{
		ID:        id,
		Username:  p["username"],
		FirstName: p["first_name"],
		LastName:  p["last_name"],
		PhotoURL:  p["photo_url"],
	}, nil
}

// TelegramHash computes hex(HMAC-SHA256(SHA256(botToken), checkString)).
func TelegramHash(botToken string, p TelegramPayload) string {
	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(p.CheckString()))
	return hex.EncodeToString(mac.Sum(nil))
}

// TelegramVerifier checks login widget payloads against the bot token.
type TelegramVerifier struct {
	botToken string
	maxAge   time.Duration
	clock    clock.Clock
}

// NewTelegramVerifier returns a verifier. maxAge bounds how old auth_date
// may be; zero disables the freshness check.
func NewTelegramVerifier(botToken string, maxAge time.Duration, clk clock.Clock) *TelegramVerifier {
	if clk == nil {
		clk = clock.Real()
	}
	return &TelegramVerifier{botToken: botToken, maxAge: maxAge, clock: clk}
}

// Check returns nil when the payload is authentic and fresh.
func (v *TelegramVerifier) Check(p TelegramPayload) error {
	if v == nil || v.botToken == "" {
		return ErrTelegramDisabled
	}
	given, ok := p["hash"]
	if !ok || given == "" {
		return ErrMissingHash
	}

	want := TelegramHash(v.botToken, p)
	if !hmac.Equal([]byte(given), []byte(want)) {
		return ErrBadSignature
	}

	if v.maxAge <= 0 {
		return nil
	}
	authDate, err := strconv.ParseInt(p["auth_date"], 10, 64)
	if err != nil {
		return ErrMissingAuthDate
	}
	issued := time.Unix(authDate, 0)
	now := v.clock.Now()
	if now.Sub(issued) > v.maxAge || issued.Sub(now) > maxClockSkew {
		return ErrStalePayload
	}
	return nil
}

// Verify reports whether the payload is authentic and fresh.
func (v *TelegramVerifier) Verify(p TelegramPayload) bool {
	return v.Check(p) == nil
}
