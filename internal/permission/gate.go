package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dunamismax/facefilter/internal/domain"
)

type Capability string

const (
	CapabilityCamera       Capability = "camera"
	CapabilityMediaLibrary Capability = "media_library"
)

type Status string

const (
	StatusGranted           Status = "granted"
	StatusDenied            Status = "denied"
	StatusDeniedPermanently Status = "denied_permanently"
)

// Gate exposes the platform's permission state for a capability.
// Request may only change a StatusDenied capability; permanently denied
// capabilities can only be changed by the user from system settings.
type Gate interface {
	Status(ctx context.Context, capability Capability) (Status, error)
	Request(ctx context.Context, capability Capability) (Status, error)
	OpenSettings(ctx context.Context, capability Capability) error
}

// Ensure checks a capability, prompting once when the denial is retryable.
// On permanent denial it opens system settings and still reports denial; the
// user has to retry the action after changing the setting.
func Ensure(ctx context.Context, gate Gate, capability Capability) error {
	status, err := gate.Status(ctx, capability)
	if err != nil {
		return fmt.Errorf("read %s permission: %w", capability, err)
	}

	if status == StatusDenied {
		status, err = gate.Request(ctx, capability)
		if err != nil {
			return fmt.Errorf("request %s permission: %w", capability, err)
		}
	}

	switch status {
	case StatusGranted:
		return nil
	case StatusDeniedPermanently:
		if err := gate.OpenSettings(ctx, capability); err != nil {
			return domain.NewError(domain.KindPermissionDenied, deniedMessage(capability, true), err)
		}
		return domain.NewError(domain.KindPermissionDenied, deniedMessage(capability, true), nil)
	default:
		return domain.NewError(domain.KindPermissionDenied, deniedMessage(capability, false), nil)
	}
}

func deniedMessage(capability Capability, permanent bool) string {
	var what string
	switch capability {
	case CapabilityCamera:
		what = "Camera access"
	case CapabilityMediaLibrary:
		what = "Gallery access"
	default:
		what = string(capability) + " access"
	}
	if permanent {
		return what + " was denied. Enable it in the app settings."
	}
	return what + " was denied."
}

// StaticGate serves fixed answers, e.g. from configuration. Capabilities
// without an entry are granted. Request grants nothing; it only reports the
// stored state.
type StaticGate struct {
	mu             sync.Mutex
	statuses       map[Capability]Status
	OnOpenSettings func(Capability)
}

// NewStaticGate parses entries of the form "camera" (retryable denial) or
// "camera:permanent".
func NewStaticGate(denied []string) (*StaticGate, error) {
	g := &StaticGate{statuses: make(map[Capability]Status)}
	for _, entry := range denied {
		name, modifier, _ := strings.Cut(strings.TrimSpace(entry), ":")
		capability := Capability(strings.ToLower(name))
		switch capability {
		case CapabilityCamera, CapabilityMediaLibrary:
		default:
			return nil, fmt.Errorf("unknown capability: %s", name)
		}
		switch strings.ToLower(modifier) {
		case "":
			g.statuses[capability] = StatusDenied
		case "permanent":
			g.statuses[capability] = StatusDeniedPermanently
		default:
			return nil, fmt.Errorf("unknown permission modifier: %s", modifier)
		}
	}
	return g, nil
}

func (g *StaticGate) Set(capability Capability, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statuses == nil {
		g.statuses = make(map[Capability]Status)
	}
	g.statuses[capability] = status
}

func (g *StaticGate) Status(ctx context.Context, capability Capability) (Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if status, ok := g.statuses[capability]; ok {
		return status, nil
	}
	return StatusGranted, nil
}

func (g *StaticGate) Request(ctx context.Context, capability Capability) (Status, error) {
	return g.Status(ctx, capability)
}

func (g *StaticGate) OpenSettings(_ context.Context, capability Capability) error {
	if g.OnOpenSettings != nil {
		g.OnOpenSettings(capability)
	}
	return nil
}
