package api

import (
	"net/http"

	"github.com/openclavis/authbridge/internal/authz"
)

// RootSignatureHeader carries the hex HMAC-SHA256 root-key signature for
// administrative requests.
const RootSignatureHeader = "X-Root-Signature"

// verifyRootRequest checks the root-key signature on an administrative
// request. The signed payload is the request method, a space, the URL path,
// and the raw body, which binds the signature to both the operation and its
// arguments.
func verifyRootRequest(r *http.Request, rootKey *authz.RootKey, body []byte) bool {
	sig := r.Header.Get(RootSignatureHeader)
	if sig == "" {
		return false
	}
	payload := append([]byte(r.Method+" "+r.URL.Path), body...)
	return rootKey.Verify(payload, sig)
}

// SignRootRequest computes the signature a client must send for an
// administrative request. Exported for clients and tests.
func SignRootRequest(rootKey *authz.RootKey, method, path string, body []byte) string {
	payload := append([]byte(method+" "+path), body...)
	return rootKey.Sign(payload)
}
