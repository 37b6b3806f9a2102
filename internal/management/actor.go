package management

import "context"

// Actor identifies who made a management change.
type Actor struct {
	ChangedBy string
	IPAddress string
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	if a.ChangedBy == "" {
		a.ChangedBy = "system"
	}
	return a
}
