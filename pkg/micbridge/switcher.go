package micbridge

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Role identifies which default-device slot a query or assignment targets.
// Windows keeps a separate default per role, and they can disagree (or be
// unset); the priority order below reflects which one a normal input
// application actually ends up using.
type Role int

const (
	RoleConsole Role = iota
	RoleMultimedia
	RoleCommunications
)

// rolePriority is the order CaptureOriginal tries roles in. Keep it a single
// ordered list rather than per-role flags so the fallback chain stays easy to
// extend.
var rolePriority = []Role{RoleConsole, RoleMultimedia, RoleCommunications}

func (r Role) String() string {
	switch r {
	case RoleConsole:
		return "console"
	case RoleMultimedia:
		return "multimedia"
	case RoleCommunications:
		return "communications"
	}

	return "unknown"
}

// ErrNoOriginalSaved is reported by Restore when no original default endpoint
// was ever captured.
var ErrNoOriginalSaved = errors.New("no original default endpoint saved")

// ErrAllRolesFailed is reported when a default-endpoint assignment failed for
// every role.
var ErrAllRolesFailed = errors.New("setting default endpoint failed for all roles")

// defaultDeviceAPI is the narrow platform seam the switcher operates through.
// The real implementation talks to the device enumerator and IPolicyConfig;
// tests substitute fakes.
type defaultDeviceAPI interface {
	// DefaultEndpointID returns the capture endpoint currently assigned as
	// default for the given role.
	DefaultEndpointID(role Role) (string, error)

	// SetDefaultEndpoint assigns the endpoint as the default capture device
	// for the given role.
	SetDefaultEndpoint(endpointID string, role Role) error
}

// switchState is the one piece of mutable state the switcher owns: the
// endpoint that was the user's default before we touched anything. At most one
// identifier may be outstanding; overwriting it before a restore would lose
// the true original for good.
type switchState struct {
	originalID string
	saved      bool
}

// DefaultSwitcher swaps the OS default capture device to a target endpoint and
// restores the saved original on demand. Each instance owns its own saved
// state; it is constructor-injected into the controller rather than shared
// globally.
type DefaultSwitcher struct {
	logger *zap.SugaredLogger
	api    defaultDeviceAPI

	mu    sync.Mutex
	state switchState
}

func newDefaultSwitcher(logger *zap.SugaredLogger, api defaultDeviceAPI) *DefaultSwitcher {
	return &DefaultSwitcher{
		logger: logger.Named("switcher"),
		api:    api,
	}
}

// CaptureOriginal queries the current default capture endpoint, trying each
// role in priority order, and stores the first one found. If an original is
// already saved it is kept untouched, so calling this again before a restore
// can never clobber the true original.
func (s *DefaultSwitcher) CaptureOriginal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.saved {
		s.logger.Debugw("Original default endpoint already saved, keeping it",
			"endpointID", s.state.originalID)
		return nil
	}

	for _, role := range rolePriority {
		endpointID, err := s.api.DefaultEndpointID(role)
		if err != nil {
			s.logger.Debugw("No default endpoint for role",
				"role", role.String(),
				"error", err)
			continue
		}

		s.logger.Infow("Saved original default capture endpoint",
			"role", role.String(),
			"endpointID", endpointID)

		s.state = switchState{originalID: endpointID, saved: true}
		return nil
	}

	return errors.New("no default capture endpoint found for any role")
}

// HasOriginal reports whether an original endpoint is currently saved.
func (s *DefaultSwitcher) HasOriginal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.saved
}

// Activate makes targetEndpointID the default capture device across all three
// roles, so that any application querying any role observes the switch. A
// single role failing is logged and tolerated; the call fails only if every
// role-set fails. Saved original state is never touched here, so a failed
// activation cannot corrupt it.
func (s *DefaultSwitcher) Activate(targetEndpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setAllRoles(targetEndpointID)
}

// Restore re-applies the saved original endpoint across all three roles. The
// saved identifier is cleared only when the assignment succeeded; a failed
// restore keeps it for the next attempt.
func (s *DefaultSwitcher) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.saved {
		s.logger.Warn("Restore requested but no original endpoint was saved")
		return ErrNoOriginalSaved
	}

	if err := s.setAllRoles(s.state.originalID); err != nil {
		s.logger.Errorw("Failed to restore original default endpoint, keeping saved state",
			"endpointID", s.state.originalID,
			"error", err)

		return fmt.Errorf("restore original endpoint: %w", err)
	}

	s.logger.Infow("Restored original default capture endpoint",
		"endpointID", s.state.originalID)

	s.state = switchState{}
	return nil
}

func (s *DefaultSwitcher) setAllRoles(endpointID string) error {
	succeeded := 0

	for _, role := range rolePriority {
		if err := s.api.SetDefaultEndpoint(endpointID, role); err != nil {
			s.logger.Warnw("Failed to set default endpoint for role",
				"role", role.String(),
				"endpointID", endpointID,
				"error", err)

			continue
		}

		succeeded++
	}

	if succeeded == 0 {
		return ErrAllRolesFailed
	}

	s.logger.Debugw("Default endpoint set",
		"endpointID", endpointID,
		"rolesSucceeded", succeeded,
		"rolesTotal", len(rolePriority))

	return nil
}
