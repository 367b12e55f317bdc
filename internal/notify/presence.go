package notify

import "context"

// Presence tracks which users hold an open stream.
type Presence interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// Connections is the part of the local registry presence needs.
type Connections interface {
	Online(userID int64) bool
}

// Local answers presence from this process's registry only.
type Local struct {
	Conns Connections
}

func (Local) SetOnline(context.Context, int64, bool) error { return nil }

func (l Local) IsOnline(_ context.Context, userID int64) (bool, error) {
	return l.Conns.Online(userID), nil
}
