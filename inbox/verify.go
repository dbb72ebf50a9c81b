package inbox

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/signature"
)

// VerifyMode controls how inbound HTTP signatures are checked.
type VerifyMode string

const (
	// VerifyEnforce rejects requests whose signature does not verify.
	VerifyEnforce VerifyMode = "enforce"
	// VerifyLog checks signatures but only logs failures.
	VerifyLog VerifyMode = "log"
	// VerifyOff skips signature checks entirely.
	VerifyOff VerifyMode = "off"
)

const DefaultClockSkew = 12 * time.Hour

func ParseVerifyMode(s string) (VerifyMode, error) {
	switch m := VerifyMode(strings.ToLower(strings.TrimSpace(s))); m {
	case VerifyEnforce, VerifyLog, VerifyOff:
		return m, nil
	case "":
		return VerifyEnforce, nil
	default:
		return "", fmt.Errorf("unknown signature mode %q (want enforce, log or off)", s)
	}
}

// precheck runs the checks that need no remote fetch: the signature header
// parses, covers the request target and date, the Date is fresh, the body
// matches its Digest and the key lives on the actor's host.
func (h *Handler) precheck(r *http.Request, body []byte, actorID string) (*signature.Params, error) {
	params, err := signature.ParseRequest(r)
	if err != nil {
		return nil, apperror.Unauthorized("%v", err)
	}
	if !params.Signs(signature.RequestTarget) || !params.Signs("date") {
		return nil, apperror.Unauthorized("signature must cover (request-target) and date")
	}

	date, err := http.ParseTime(r.Header.Get("Date"))
	if err != nil {
		return nil, apperror.Unauthorized("invalid Date header")
	}
	if skew := h.now().Sub(date).Abs(); skew > h.maxSkew {
		return nil, apperror.Unauthorized("Date header is %s off", skew.Truncate(time.Second))
	}

	if len(body) > 0 {
		if !params.Signs("digest") {
			return nil, apperror.Unauthorized("signature must cover the digest of the body")
		}
		if err := signature.VerifyDigest(r.Header.Get(signature.DigestHeader), body); err != nil {
			return nil, apperror.Unauthorized("%v", err)
		}
	}

	keyHost, err := hostOf(params.KeyID)
	if err != nil {
		return nil, apperror.Unauthorized("invalid keyId %q", params.KeyID)
	}
	actorHost, err := hostOf(actorID)
	if err != nil {
		return nil, apperror.BadRequest("invalid actor %q", actorID)
	}
	if keyHost != actorHost {
		return nil, apperror.Unauthorized("key %s is not hosted with %s", params.KeyID, actorID)
	}
	return params, nil
}

// verifyKey checks that params were produced by actor's published key.
func verifyKey(r *http.Request, params *signature.Params, actor *models.Actor) error {
	if params.KeyID != actor.PublicKey.ID {
		return apperror.Unauthorized("key %s does not belong to %s", params.KeyID, actor.ID)
	}
	if owner := actor.PublicKey.Owner; owner != "" && owner != actor.ID {
		return apperror.Unauthorized("key %s is owned by %s, not %s", params.KeyID, owner, actor.ID)
	}
	pub, err := signature.ParsePublicKey(actor.PublicKey.PublicKeyPem)
	if err != nil {
		return apperror.Unauthorized("public key of %s is unusable: %v", actor.ID, err)
	}
	if err := params.Verify(r, pub); err != nil {
		return apperror.Unauthorized("%v", err)
	}
	return nil
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q has no host", raw)
	}
	return strings.ToLower(u.Host), nil
}
