package auth

import "slices"

// DecisionKind is what a route guard wants the router to do.
type DecisionKind string

const (
	DecisionLoading  DecisionKind = "loading"
	DecisionRedirect DecisionKind = "redirect"
	DecisionRender   DecisionKind = "render"
)

// Decision is the outcome of a guard. Location is set for redirects.
type Decision struct {
	Kind     DecisionKind
	Location string
	Replace  bool
}

// Guard is a pure function of the session state.
type Guard func(state SessionState) Decision

// GuardPaths configures where guards send users.
type GuardPaths struct {
	Login string
	Home  string
}

// DefaultGuardPaths are "/login" and "/".
var DefaultGuardPaths = GuardPaths{Login: PathLogin, Home: PathHome}

func (p GuardPaths) login() string {
	if p.Login == "" {
		return PathLogin
	}
	return p.Login
}

func (p GuardPaths) home() string {
	if p.Home == "" {
		return PathHome
	}
	return p.Home
}

func loading() Decision { return Decision{Kind: DecisionLoading} }

func render() Decision { return Decision{Kind: DecisionRender} }

func redirect(to string) Decision {
	return Decision{Kind: DecisionRedirect, Location: to, Replace: true}
}

func landing(state SessionState, paths GuardPaths) string {
	if state.RedirectTarget != "" {
		return state.RedirectTarget
	}
	return paths.home()
}

// PublicOnly renders for anonymous visitors and sends signed in users to
// their landing page.
func PublicOnly(paths ...GuardPaths) Guard {
	p := pickPaths(paths)
	return func(state SessionState) Decision {
		if !state.Status.Resolved() {
			return loading()
		}
		if state.User != nil {
			return redirect(landing(state, p))
		}
		return render()
	}
}

// AuthenticatedOnly renders for any signed in user.
func AuthenticatedOnly(paths ...GuardPaths) Guard {
	p := pickPaths(paths)
	return func(state SessionState) Decision {
		if !state.Status.Resolved() {
			return loading()
		}
		if state.User == nil {
			return redirect(p.login())
		}
		return render()
	}
}

// RoleRestricted renders only for the listed roles. Signed in users with
// another role go to their own landing page, not to login.
func RoleRestricted(allowed []Role, paths ...GuardPaths) Guard {
	p := pickPaths(paths)
	roles := slices.Clone(allowed)
	return func(state SessionState) Decision {
		if !state.Status.Resolved() {
			return loading()
		}
		if state.User == nil {
			return redirect(p.login())
		}
		if !slices.Contains(roles, state.User.Role) {
			return redirect(landing(state, p))
		}
		return render()
	}
}

// AdminOnly is RoleRestricted for admins, sending other roles home.
func AdminOnly(paths ...GuardPaths) Guard {
	p := pickPaths(paths)
	return func(state SessionState) Decision {
		if !state.Status.Resolved() {
			return loading()
		}
		if state.User == nil {
			return redirect(p.login())
		}
		if state.User.Role != RoleAdmin {
			return redirect(p.home())
		}
		return render()
	}
}

func pickPaths(paths []GuardPaths) GuardPaths {
	if len(paths) == 0 {
		return DefaultGuardPaths
	}
	return paths[0]
}
