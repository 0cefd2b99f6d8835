// Package saml implements a SAML service-provider authenticator on top of
// crewjam/saml. The entry leg at GET /login issues a signed authentication
// request to the IdP; the IdP posts its assertion back to POST /acs, which
// runs the ordinary handshake with the assertion as the credential.
package saml

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
	"github.com/gorilla/mux"

	"github.com/characterhq/character"
)

// Options configures the service provider half of the exchange.
type Options struct {
	// CertFile and KeyFile hold the SP signing key pair.
	CertFile string
	KeyFile  string

	// MetadataURL is where the IdP publishes its metadata document.
	MetadataURL string

	// RootURL is the absolute URL this authenticator is mounted under; the
	// ACS and metadata endpoints are derived from it.
	RootURL string
}

// SAML authenticates assertions from a single identity provider. The
// account id is the assertion's subject NameID.
type SAML struct {
	character.AccountLinker

	mw  *samlsp.Middleware
	log *slog.Logger
}

// New builds the authenticator: it loads the SP key pair and fetches the
// IdP metadata once, at construction. A missing key pair or unreachable
// metadata URL is a construction error, not a request-time one.
func New(name string, opts Options, identities character.IdentityStore) (*SAML, error) {
	keyPair, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}
	keyPair.Leaf, err = x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	metadataURL, err := url.Parse(opts.MetadataURL)
	if err != nil {
		return nil, fmt.Errorf("parsing metadata url: %w", err)
	}
	idpMetadata, err := samlsp.FetchMetadata(context.Background(), http.DefaultClient, *metadataURL)
	if err != nil {
		return nil, fmt.Errorf("fetching idp metadata: %w", err)
	}

	rootURL, err := url.Parse(opts.RootURL)
	if err != nil {
		return nil, fmt.Errorf("parsing root url: %w", err)
	}

	mw, err := samlsp.New(samlsp.Options{
		URL:         *rootURL,
		Key:         keyPair.PrivateKey.(*rsa.PrivateKey),
		Certificate: keyPair.Leaf,
		IDPMetadata: idpMetadata,
		// Some IdPs require signed requests.
		SignRequest: true,
	})
	if err != nil {
		return nil, err
	}

	return &SAML{
		AccountLinker: character.AccountLinker{AuthenticatorName: name, Identities: identities},
		mw:            mw,
	}, nil
}

// Factory returns the registry factory for SAML authenticators. Options
// come from the authenticator's extra config (cert_file, key_file,
// metadata_url, root_url) or the SAML_* environment.
func Factory() character.Factory {
	return character.Factory{
		New: func(name string, cfg *character.AuthenticatorConfig, deps character.Deps) (character.Authenticator, error) {
			env := func(key, fallback string) string {
				if v := cfg.Extra[key]; v != "" {
					return v
				}
				return strings.TrimSpace(os.Getenv("SAML_" + strings.ToUpper(key)))
			}
			opts := Options{
				CertFile:    env("cert_file", ""),
				KeyFile:     env("key_file", ""),
				MetadataURL: env("metadata_url", ""),
				RootURL:     env("root_url", ""),
			}
			if opts.MetadataURL == "" || opts.RootURL == "" {
				return nil, errors.New("saml authenticator requires metadata_url and root_url")
			}
			auth, err := New(name, opts, deps.Identities)
			if err != nil {
				return nil, err
			}
			auth.log = deps.Log
			return auth, nil
		},
	}
}

// Authenticate serves the ACS leg: it validates the posted assertion
// against the requests this SP actually issued. A bad assertion is a
// credential failure; this SP never accepts IdP-initiated logins.
func (s *SAML) Authenticate(rc *character.RequestContext) (*character.AccountClaim, error) {
	r := rc.Request
	if err := r.ParseForm(); err != nil {
		return nil, character.ErrBadCredentials
	}

	var possibleRequestIDs []string
	for _, tracked := range s.mw.RequestTracker.GetTrackedRequests(r) {
		possibleRequestIDs = append(possibleRequestIDs, tracked.SAMLRequestID)
	}

	assertion, err := s.mw.ServiceProvider.ParseResponse(r, possibleRequestIDs)
	if err != nil {
		rc.Log.Info("rejected saml assertion", "authenticator", s.Name(), "error", err)
		return nil, character.ErrBadCredentials
	}

	if assertion.Subject == nil || assertion.Subject.NameID == nil {
		return nil, character.ErrBadCredentials
	}
	accountID := assertion.Subject.NameID.Value
	if accountID == "" {
		return nil, character.ErrBadCredentials
	}

	profile := map[string]any{}
	for _, statement := range assertion.AttributeStatements {
		for _, attr := range statement.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			if strings.HasSuffix(attr.Name, "/claims/emailaddress") || attr.Name == "email" {
				profile["email"] = attr.Values[0].Value
			}
		}
	}
	return &character.AccountClaim{ID: accountID, Profile: profile}, nil
}

// MountRoutes mounts the IdP redirect at GET /login, the assertion
// consumer at POST /acs and the SP metadata document at GET /metadata.
func (s *SAML) MountRoutes(r *mux.Router, handshake http.Handler) {
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodGet)
	r.Handle("/acs", handshake).Methods(http.MethodPost)
	r.HandleFunc("/metadata", s.mw.ServeMetadata).Methods(http.MethodGet)
}

func (s *SAML) handleLogin(w http.ResponseWriter, r *http.Request) {
	sp := &s.mw.ServiceProvider
	authReq, err := sp.MakeAuthenticationRequest(
		sp.GetSSOBindingLocation(saml.HTTPRedirectBinding),
		saml.HTTPRedirectBinding,
		s.mw.ResponseBinding,
	)
	if err != nil {
		s.logger().Error("building authentication request failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	relayState, err := s.mw.RequestTracker.TrackRequest(w, r, authReq.ID)
	if err != nil {
		s.logger().Error("tracking authentication request failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	redirectURL, err := authReq.Redirect(relayState, sp)
	if err != nil {
		s.logger().Error("building idp redirect failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *SAML) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}
