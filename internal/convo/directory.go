package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emberchat/emberd/internal/bus"
)

// RegisterUser writes the user's profile node and adds them to the global
// directory index used for search. The directory append de-duplicates by
// normalized key, so re-registration does not grow the index.
func (s *Service) RegisterUser(ctx context.Context, u User) error {
	key := NormalizeKey(u.Email)

	node, err := json.Marshal(userDoc{FirstName: u.FirstName, LastName: u.LastName})
	if err != nil {
		return err
	}
	if err := s.store.WriteWhole(ctx, userPath(key), node); err != nil {
		return fmt.Errorf("write user node: %w", err)
	}

	entry := DirectoryEntry{Name: u.DisplayName(), Email: key}
	err = s.store.Update(ctx, directoryPath, func(current json.RawMessage, exists bool) (json.RawMessage, error) {
		var entries []DirectoryEntry
		if exists {
			if err := json.Unmarshal(current, &entries); err != nil {
				return nil, fmt.Errorf("decode user directory: %w", err)
			}
		}
		for i, e := range entries {
			if e.Email == key {
				entries[i] = entry
				return json.Marshal(entries)
			}
		}
		entries = append(entries, entry)
		return json.Marshal(entries)
	})
	if err != nil {
		return err
	}

	s.publish(bus.Event{Kind: "user.registered", Timestamp: time.Now(), Payload: key})
	return nil
}

// UserExists probes for a registered profile node at the normalized key.
func (s *Service) UserExists(ctx context.Context, key string) (bool, error) {
	_, exists, err := s.store.ReadOnce(ctx, userPath(key))
	return exists, err
}

// AllUsers returns the global directory. ErrNotFound when no user has ever
// registered. Malformed rows are dropped, not surfaced.
func (s *Service) AllUsers(ctx context.Context) ([]DirectoryEntry, error) {
	doc, exists, err := s.store.ReadOnce(ctx, directoryPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(doc, &raws); err != nil {
		return nil, fmt.Errorf("decode user directory: %w", err)
	}
	entries := make([]DirectoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e DirectoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if e.Name == "" || e.Email == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UserData reads the raw node at path, for profile display. ErrNotFound when
// absent.
func (s *Service) UserData(ctx context.Context, path string) (json.RawMessage, error) {
	doc, exists, err := s.store.ReadOnce(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return doc, nil
}
