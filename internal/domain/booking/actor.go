package booking

import "github.com/google/uuid"

// ActorKind distinguishes end users from privileged callers.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAdmin  ActorKind = "admin"
	ActorSystem ActorKind = "system"
)

// Actor is the caller of a booking operation. A user's role on a booking
// is resolved from the booking's owner and sitter IDs.
type Actor struct {
	ID   uuid.UUID
	Kind ActorKind
}

// UserActor returns an actor for an authenticated end user.
func UserActor(id uuid.UUID) Actor { return Actor{ID: id, Kind: ActorUser} }

// AdminActor returns an actor for a platform operator.
func AdminActor(id uuid.UUID) Actor { return Actor{ID: id, Kind: ActorAdmin} }

// SystemActor is the scheduler and other internal callers.
var SystemActor = Actor{Kind: ActorSystem}
