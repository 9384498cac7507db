package profilestore

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/veil/pkg/browser"
	"github.com/entrhq/veil/pkg/types"
)

const listenerTimeout = 5 * time.Second

// StatusListener returns a listener that persists resting session states.
// Transitional states are not written; a reload would normalize them anyway.
// A running session also bumps last_used, and the location detected at
// launch is kept on the profile's proxy for display.
func (s *Store) StatusListener() browser.Listener {
	return browser.ListenerFuncs{
		OnStatus: s.persistStatus,
		OnClosed: func(id string) {
			s.logger.Infof("Profile %s closed outside veil", id)
		},
		OnGeo: s.persistGeo,
	}
}

func (s *Store) persistGeo(id string, geo *types.GeoIPInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()

	err := s.SetDetectedGeo(ctx, id, geo)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debugf("Location for unknown profile %s dropped", id)
	case err != nil:
		s.logger.Warnf("Failed to persist location for profile %s: %v", id, err)
	}
}

func (s *Store) persistStatus(id string, status types.Status) {
	if !status.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()

	err := s.SetStatus(ctx, id, status)
	if err == nil && status == types.StatusRunning {
		err = s.Touch(ctx, id)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		// Deleted while running.
		s.logger.Debugf("Status %s for unknown profile %s dropped", status, id)
	case err != nil:
		s.logger.Warnf("Failed to persist status %s for profile %s: %v", status, id, err)
	}
}
