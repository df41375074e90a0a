package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"storyline/internal/db"
	"storyline/internal/engine"
	"storyline/internal/repo"
	"storyline/internal/session"
)

const currentFile = "current_session"

// ResolveSession picks the active session. It prefers the override, then the
// session marked current in the workspace, then the most recently updated
// one. When none exists a new session is created and marked current.
func ResolveSession(ctx context.Context, e engine.Engine, workspace, override string) (*session.Session, error) {
	if override != "" {
		s, err := e.Load(ctx, override)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fmt.Errorf("session %s not found", override)
			}
			return nil, err
		}
		return s, nil
	}
	if id, err := Current(workspace); err == nil && id != "" {
		s, err := e.Load(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	rec, err := e.Repo.LatestSession(ctx)
	if err == nil {
		if err := SetCurrent(workspace, rec.ID); err != nil {
			return nil, err
		}
		return e.Load(ctx, rec.ID)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	s, err := e.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := SetCurrent(workspace, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the session ID marked current, or "" when none is.
func Current(workspace string) (string, error) {
	data, err := os.ReadFile(currentPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func SetCurrent(workspace, id string) error {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	return os.WriteFile(currentPath(workspace), []byte(id+"\n"), 0o644)
}

func currentPath(workspace string) string {
	return filepath.Join(db.StateDir(workspace), currentFile)
}
