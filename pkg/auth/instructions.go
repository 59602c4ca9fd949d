package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide explains how to copy a session cookie for host out of a
// browser
func WriteCookieGuide(w io.Writer, host string) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "SESSION COOKIE FOR %s\n", host)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Some boards only return full listings to a logged-in session.")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  1. Log in to %s in your browser\n", host)
	fmt.Fprintln(w, "  2. Open Developer Tools (F12 or Cmd+Option+I) and select the Network tab")
	fmt.Fprintln(w, "  3. Run a search on the site and click the listing request")
	fmt.Fprintln(w, "  4. Under Request Headers, copy the whole value of the Cookie header")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The cookie is stored in the system keychain when available and in an")
	fmt.Fprintln(w, "encrypted file otherwise. It grants access to your account; do not share it.")
	fmt.Fprintln(w, rule)
}
