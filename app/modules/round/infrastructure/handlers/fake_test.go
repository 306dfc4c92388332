package roundhandlers

import (
	"context"
	"sync"

	authdomain "github.com/Black-And-White-Club/avery/app/modules/auth/domain"
	roundservice "github.com/Black-And-White-Club/avery/app/modules/round/application"
)

// FakeService implements roundservice.Service. Only Connect, Handle and Close
// are programmable; the per-action methods are reached through Handle.
type FakeService struct {
	roundservice.Service

	ConnectFunc func(ctx context.Context, claims authdomain.Claims) (*roundservice.Session, error)
	HandleFunc  func(ctx context.Context, sess *roundservice.Session, req roundservice.Request) (roundservice.Response, error)

	mu     sync.Mutex
	closed int
}

func (f *FakeService) Connect(ctx context.Context, claims authdomain.Claims) (*roundservice.Session, error) {
	if f.ConnectFunc != nil {
		return f.ConnectFunc(ctx, claims)
	}
	return &roundservice.Session{PlayerID: claims.PlayerID, Username: claims.Username, IsGuest: claims.Guest}, nil
}

func (f *FakeService) Handle(ctx context.Context, sess *roundservice.Session, req roundservice.Request) (roundservice.Response, error) {
	if f.HandleFunc != nil {
		return f.HandleFunc(ctx, sess, req)
	}
	return roundservice.Response{}, nil
}

func (f *FakeService) Close(context.Context, *roundservice.Session) {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *FakeService) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
