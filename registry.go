package character

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"
)

// Deps bundles the shared collaborators a factory may wire into the
// authenticator it builds. Authenticator-specific dependencies (credential
// stores, mail senders) are closed over at registration time instead.
type Deps struct {
	Identities IdentityStore
	Sessions   *SessionGateway
	Log        *slog.Logger
}

// Factory builds one kind of authenticator from its merged configuration.
// Defaults, when set, is the authenticator-type layer of the configuration
// merge.
type Factory struct {
	Defaults *AuthenticatorConfig
	New      func(name string, cfg *AuthenticatorConfig, deps Deps) (Authenticator, error)
}

// Registry maps configuration module names to statically known
// authenticator factories and mounts the configured authenticators under
// their name as a path prefix. The registry performs no authentication
// logic itself.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register makes a factory available under a module name. Registering the
// same name twice replaces the earlier factory.
func (reg *Registry) Register(module string, f Factory) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.factories[module] = f
}

// Mount builds every configured authenticator and mounts its routes under
// <name>/ on the router, each wrapped in the session manager's middleware.
//
// A configuration problem - unknown module, factory failure - is fatal in
// production mode. In development mode the authenticator is disabled with a
// warning instead, and requests to its routes fall through unmounted.
func (reg *Registry) Mount(router *mux.Router, relay *Relay, cfg *Config) error {
	log := relay.logger()

	if errs := cfg.Validate(); len(errs) > 0 {
		if cfg.Production {
			return errs[0]
		}
		for _, err := range errs {
			log.Warn("configuration problem", "error", err)
		}
	}

	deps := Deps{Identities: relay.Identities, Sessions: relay.Sessions, Log: log}
	global := cfg.authenticatorDefaults()
	targets := make(map[string]http.Handler)

	// Deterministic mount order keeps startup logs stable.
	names := make([]string, 0, len(cfg.Authenticators))
	for name := range cfg.Authenticators {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		userCfg := cfg.Authenticators[name]
		if userCfg == nil || userCfg.Module == "" {
			continue // already reported by Validate
		}

		reg.mu.RLock()
		factory, ok := reg.factories[userCfg.Module]
		reg.mu.RUnlock()
		if !ok {
			err := &ConfigError{Authenticator: name, Message: "no factory registered for module " + userCfg.Module}
			if cfg.Production {
				return err
			}
			log.Warn("disabling authenticator", "error", err)
			continue
		}

		merged := MergeConfig(global, factory.Defaults, userCfg)
		auth, err := factory.New(name, merged, deps)
		if err != nil {
			if cfg.Production {
				return &ConfigError{Authenticator: name, Message: err.Error()}
			}
			log.Warn("disabling authenticator", "authenticator", name, "error", err)
			continue
		}

		sub := router.PathPrefix("/" + name).Subrouter()
		sub.Use(sessionMiddleware(relay.Sessions))
		// mux answers 404 on method mismatch unless told otherwise.
		sub.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		})
		handshake := relay.Handshake(auth, merged)

		if mounter, ok := auth.(RouteMounter); ok {
			mounter.MountRoutes(sub, handshake)
		} else {
			sub.Handle("", handshake).Methods(http.MethodPost)
			sub.Handle("/", handshake).Methods(http.MethodPost)
		}
		targets[name] = handshake
		log.Info("mounted authenticator", "authenticator", name, "module", merged.Module)
	}

	mountTargetDispatch(router, relay.Sessions, cfg.TargetParameter, targets)
	return nil
}

// mountTargetDispatch serves the hub base route. Authenticators that cross
// a process boundary post every handshake leg to one shared endpoint; the
// target parameter names the authenticator the leg belongs to.
func mountTargetDispatch(router *mux.Router, sessions *SessionGateway, targetParameter string, targets map[string]http.Handler) {
	dispatch := sessionMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := targets[r.FormValue(targetParameter)]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	router.Handle("", dispatch).Methods(http.MethodPost)
	router.Handle("/", dispatch).Methods(http.MethodPost)
}

// sessionMiddleware adapts the scs load-and-save middleware to mux's
// middleware type.
func sessionMiddleware(g *SessionGateway) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return g.Manager.LoadAndSave(next)
	}
}
