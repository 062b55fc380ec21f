package voice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader is set by the telephony provider on every webhook.
const SignatureHeader = "X-Twilio-Signature"

// ValidSignature checks the HMAC-SHA1 signature over fullURL followed by the
// sorted form parameters. r.ParseForm must already have run.
func ValidSignature(r *http.Request, authToken, fullURL string) bool {
	got := r.Header.Get(SignatureHeader)
	if got == "" || authToken == "" {
		return false
	}
	want := Sign(authToken, fullURL, r.PostForm)
	return hmac.Equal([]byte(got), []byte(want))
}

// Sign computes the signature the provider would send for a request.
func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			payload.WriteString(k)
			payload.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// externalURL rebuilds the URL the provider called, honouring the forwarded
// headers set by the edge proxy.
func externalURL(r *http.Request, publicBase string) string {
	if publicBase != "" {
		return strings.TrimRight(publicBase, "/") + r.URL.RequestURI()
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "https"
		if r.TLS == nil {
			proto = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return proto + "://" + host + r.URL.RequestURI()
}
