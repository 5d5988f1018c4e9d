package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RecvWindow is the validity window, in milliseconds, attached to every signed request.
const RecvWindow = "5000"

// Credentials authenticate requests. They are never logged.
type Credentials struct {
	APIKey    string
	APISecret string
}

// String masks both values so credentials are safe to print by accident.
func (c Credentials) String() string {
	if c.APIKey == "" {
		return "credentials(empty)"
	}
	return "credentials(" + MaskKey(c.APIKey) + ", ***)"
}

// MaskKey keeps at most a four character prefix of an API key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return key[:4] + "***"
}

// SignedRequest is a request ready for the transport.
type SignedRequest struct {
	Method     string
	Path       string
	Params     map[string]string
	Timestamp  int64
	RecvWindow string
	Signature  string
	// Query is the canonical string the signature covers.
	Query string
}

// Encoded returns the canonical query with the signature appended.
func (r SignedRequest) Encoded() string {
	return r.Query + "&sign=" + r.Signature
}

// Signer produces HMAC-SHA256 signatures over the sorted parameter set.
type Signer struct {
	creds Credentials
	now   func() time.Time
}

// NewSigner binds credentials to a signer using the wall clock.
func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds, now: time.Now}
}

// Sign merges auth parameters into a copy of params and signs the canonical string.
func (s *Signer) Sign(method, path string, params map[string]string) (SignedRequest, error) {
	if s == nil || s.creds.APIKey == "" || s.creds.APISecret == "" {
		return SignedRequest{}, &SigningError{Reason: "missing api credentials"}
	}
	timestamp := s.now().UnixMilli()

	merged := make(map[string]string, len(params)+4)
	for k, v := range params {
		merged[k] = v
	}
	merged["apiKey"] = s.creds.APIKey
	merged["timestamp"] = strconv.FormatInt(timestamp, 10)
	merged["recvWindow"] = RecvWindow

	query := Canonical(merged)
	mac := hmac.New(sha256.New, []byte(s.creds.APISecret))
	mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))
	merged["sign"] = signature

	return SignedRequest{
		Method:     strings.ToUpper(method),
		Path:       path,
		Params:     merged,
		Timestamp:  timestamp,
		RecvWindow: RecvWindow,
		Signature:  signature,
		Query:      query,
	}, nil
}

// Canonical joins key=value pairs with & in ascending byte order of keys.
func Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
