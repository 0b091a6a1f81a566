// Package stub provides the placeholder app served in place of a sub-app
// that failed to load.
package stub

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/pitext/router/internal/httputil"
)

// Kind is the mount-kind name reported for placeholder apps.
const Kind = "stub"

// New returns a handler that answers every request with 503 and a JSON body
// naming the app and its load error.
func New(app string, loadErr error) http.Handler {
	msg := fmt.Sprintf("%s app failed to load", title(app))
	if loadErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, loadErr)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": msg,
			"path":  strings.TrimPrefix(r.URL.Path, "/"),
		})
	})
}

func title(s string) string {
	if s == "" {
		return "Unknown"
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
