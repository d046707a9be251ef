package service

// Actor is whoever is performing an engine operation. The caller resolves
// identity and role membership before invoking the engine; there is no
// ambient current-user state anywhere below this interface.
type Actor interface {
	ActorID() string
	HasRole(role string) bool
}

// StaticActor is an Actor with a fixed role set, resolved upstream (gateway
// headers in the HTTP handler, fixtures in tests).
type StaticActor struct {
	ID    string
	Roles []string
}

// ActorID implements Actor.
func (a StaticActor) ActorID() string {
	return a.ID
}

// HasRole implements Actor.
func (a StaticActor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
