package character

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ParseFields reads the named fields from a form-encoded or JSON request
// body. Missing fields come back as empty strings; the caller decides
// which are required. Shared by the credential-submission authenticators
// so none of them grows its own body parser.
func ParseFields(r *http.Request, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("error parsing form")
		}
		for _, f := range fields {
			out[f] = r.FormValue(f)
		}
		return out, nil
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		return nil, fmt.Errorf("invalid post body")
	}
	for _, f := range fields {
		if v, ok := data[f].(string); ok {
			out[f] = v
		}
	}
	return out, nil
}

// ParseCredentials reads a username/password pair from the request body.
func ParseCredentials(r *http.Request, usernameField, passwordField string) (username, password string, err error) {
	fields, err := ParseFields(r, usernameField, passwordField)
	if err != nil {
		return "", "", err
	}
	username = fields[usernameField]
	password = fields[passwordField]
	if username == "" || password == "" {
		return "", "", fmt.Errorf("username and password required")
	}
	return username, password, nil
}
