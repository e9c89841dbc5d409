package location

import (
	"context"
	"sync"
)

// Permissions requests positioning authorization from the platform.
// Foreground authorization is a precondition for every operation; background
// authorization only gates periodic delivery while the app is not in use.
type Permissions interface {
	RequestForeground(ctx context.Context) (bool, error)
	RequestBackground(ctx context.Context) (bool, error)
}

// StaticPermissions answers authorization requests from fixed settings. It is
// the permission model for hosts without an interactive prompt (headless
// agents, the terminal client, tests).
type StaticPermissions struct {
	mu         sync.Mutex
	foreground bool
	background bool
}

// NewStaticPermissions returns permissions with the given grants.
func NewStaticPermissions(foreground, background bool) *StaticPermissions {
	return &StaticPermissions{foreground: foreground, background: background}
}

func (p *StaticPermissions) RequestForeground(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.foreground, nil
}

func (p *StaticPermissions) RequestBackground(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.background, nil
}

// Set changes the grants, e.g. after the user revisits system settings.
func (p *StaticPermissions) Set(foreground, background bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.foreground = foreground
	p.background = background
}

// RequireForeground returns ErrPermissionDenied unless foreground
// authorization is granted.
func RequireForeground(ctx context.Context, p Permissions) error {
	granted, err := p.RequestForeground(ctx)
	if err != nil {
		return err
	}
	if !granted {
		return ErrPermissionDenied
	}
	return nil
}
