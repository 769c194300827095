package proxy

import "net/http"

// respondText writes a plain-text error response. Trace headers already
// added to w travel with it.
func respondText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	if msg != "" {
		w.Write([]byte(msg))
	}
}
