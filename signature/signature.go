// Package signature implements the HTTP Signatures profile used between
// ActivityPub servers: rsa-sha256 over "(request-target) host date" and,
// for requests with a body, "digest".
package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cvhariharan/sailboat/apperror"
)

const (
	HeaderName   = "Signature"
	DigestHeader = "Digest"

	RequestTarget = "(request-target)"
)

// FormatDate renders t the way the Date header of a signed request must
// look: RFC 7231 IMF-fixdate in GMT.
func FormatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// Digest returns the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyDigest checks a Digest header against body. The header may list
// several algorithms; only sha-256 is checked and it must be present.
func VerifyDigest(header string, body []byte) error {
	sum := sha256.Sum256(body)
	for _, part := range strings.Split(header, ",") {
		alg, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(alg, "sha-256") {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return fmt.Errorf("decode digest: %w", err)
		}
		if subtle.ConstantTimeCompare(got, sum[:]) != 1 {
			return errors.New("digest does not match body")
		}
		return nil
	}
	return errors.New("no sha-256 digest present")
}

// Sign returns the Signature header value for a request. date must be the
// exact value sent in the Date header; digest is the Digest header value or
// empty for requests without a body. Signing is deterministic: the same
// inputs always produce the same header.
func Sign(method string, uri *url.URL, date time.Time, key *rsa.PrivateKey, keyID, digest string) (string, error) {
	if key == nil {
		return "", apperror.Internal(errors.New("no private key"), "sign request")
	}
	if uri == nil || uri.Host == "" {
		return "", apperror.BadRequest("cannot sign request: URI has no host")
	}
	if uri.EscapedPath() == "" {
		return "", apperror.BadRequest("cannot sign request: URI %q has no path", uri.String())
	}

	headers := []string{RequestTarget, "host", "date"}
	values := map[string]string{
		RequestTarget: strings.ToLower(method) + " " + uri.RequestURI(),
		"host":        uri.Host,
		"date":        FormatDate(date),
	}
	if digest != "" {
		headers = append(headers, "digest")
		values["digest"] = digest
	}

	signingString, err := buildSigningString(headers, func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	})
	if err != nil {
		return "", apperror.Internal(err, "build signing string")
	}

	hashed := sha256.Sum256([]byte(signingString))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		return "", apperror.Internal(err, "sign request")
	}

	return fmt.Sprintf(`keyId="%s",headers="%s",signature="%s"`,
		keyID, strings.Join(headers, " "), base64.StdEncoding.EncodeToString(sig)), nil
}

// Params are the fields of a parsed Signature header.
type Params struct {
	KeyID     string
	Algorithm string
	Headers   []string
	Signature []byte
}

// Signs reports whether name is part of the signed header list.
func (p *Params) Signs(name string) bool {
	for _, h := range p.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// ParseRequest extracts the signature parameters from r, reading either the
// Signature header or an "Authorization: Signature ..." header.
func ParseRequest(r *http.Request) (*Params, error) {
	header := r.Header.Get(HeaderName)
	if header == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Signature ") {
			header = strings.TrimPrefix(auth, "Signature ")
		}
	}
	if header == "" {
		return nil, errors.New("request is not signed")
	}
	return ParseHeader(header)
}

// ParseHeader parses a Signature header value.
func ParseHeader(header string) (*Params, error) {
	fields, err := splitParams(header)
	if err != nil {
		return nil, err
	}

	p := &Params{
		KeyID:     fields["keyId"],
		Algorithm: fields["algorithm"],
		Headers:   []string{"date"},
	}
	if p.KeyID == "" {
		return nil, errors.New("signature has no keyId")
	}
	if h := strings.TrimSpace(fields["headers"]); h != "" {
		p.Headers = strings.Fields(strings.ToLower(h))
	}
	if fields["signature"] == "" {
		return nil, errors.New("signature has no signature value")
	}
	if p.Signature, err = base64.StdEncoding.DecodeString(fields["signature"]); err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	switch strings.ToLower(p.Algorithm) {
	case "", "rsa-sha256", "hs2019":
	default:
		return nil, fmt.Errorf("unsupported signature algorithm %q", p.Algorithm)
	}
	return p, nil
}

// Verify rebuilds the signing string from r and the declared header list
// and checks it against pub.
func (p *Params) Verify(r *http.Request, pub *rsa.PublicKey) error {
	signingString, err := buildSigningString(p.Headers, func(name string) (string, bool) {
		switch name {
		case RequestTarget:
			return strings.ToLower(r.Method) + " " + r.URL.RequestURI(), true
		case "host":
			if r.Host != "" {
				return r.Host, true
			}
			return r.URL.Host, r.URL.Host != ""
		default:
			values := r.Header.Values(name)
			if len(values) == 0 {
				return "", false
			}
			return strings.Join(values, ", "), true
		}
	})
	if err != nil {
		return err
	}

	hashed := sha256.Sum256([]byte(signingString))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], p.Signature); err != nil {
		return fmt.Errorf("signature mismatch: %w", err)
	}
	return nil
}

// Verify checks the signature of r against pub.
func Verify(r *http.Request, pub *rsa.PublicKey) error {
	p, err := ParseRequest(r)
	if err != nil {
		return err
	}
	return p.Verify(r, pub)
}

func buildSigningString(headers []string, lookup func(string) (string, bool)) (string, error) {
	lines := make([]string, 0, len(headers))
	for _, name := range headers {
		value, ok := lookup(name)
		if !ok {
			return "", fmt.Errorf("signed header %q is missing", name)
		}
		lines = append(lines, name+": "+value)
	}
	return strings.Join(lines, "\n"), nil
}

// splitParams parses comma separated key="value" pairs. Quoted values may
// contain commas.
func splitParams(s string) (map[string]string, error) {
	out := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ,")
		if s == "" {
			break
		}
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("malformed signature parameter %q", s)
		}
		key := strings.TrimSpace(s[:eq])
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated value for %q", key)
			}
			value = s[1 : end+1]
			s = s[end+2:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		out[key] = value
	}
	return out, nil
}
