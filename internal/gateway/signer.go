package gateway

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

type Algorithm int

const (
	MD5 Algorithm = iota
	SHA256
)

// SignatureField is the payload key carrying the signature.
const SignatureField = "signature"

// Signer produces the rail signature: non-empty params sorted by key, joined
// as k=v with '&', suffixed with "&key=<secret>", hashed to upper-case hex.
type Signer struct {
	secret string
	alg    Algorithm
}

func NewSigner(secret string, alg Algorithm) *Signer {
	return &Signer{secret: secret, alg: alg}
}

func (s *Signer) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == SignatureField || v == "" {
			continue
		}
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
	b.WriteString("&key=")
	b.WriteString(s.secret)

	return strings.ToUpper(s.hash([]byte(b.String())))
}

// Verify checks params[SignatureField] in constant time. A missing signature
// never verifies.
func (s *Signer) Verify(params map[string]string) bool {
	got := params[SignatureField]
	if got == "" {
		return false
	}
	want := s.Sign(params)
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(got)), []byte(want)) == 1
}

func (s *Signer) hash(data []byte) string {
	if s.alg == SHA256 {
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
