package profile

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/zbulk/errors"
)

// fileFormat is the on-disk layout:
//
//	[profiles.acme]
//	data_center = "eu"
//	token_env = "ACME_ZOHO_TOKEN"
//	org_id = "20071234"
//
//	[profiles.acme.params]
//	portal = "acme"
type fileFormat struct {
	Profiles map[string]Profile `toml:"profiles"`
}

// FileStore is a Store backed by a TOML file. Reload re-reads the file; a
// failed reload keeps the previous profiles.
type FileStore struct {
	path              string
	defaultDataCenter string

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewFileStore loads profiles from path. A missing file yields an empty
// store so a fresh install can start without one.
func NewFileStore(path, defaultDataCenter string) (*FileStore, error) {
	s := &FileStore{
		path:              path,
		defaultDataCenter: defaultDataCenter,
		profiles:          make(map[string]Profile),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file
func (s *FileStore) Path() string { return s.path }

// Reload re-reads the profiles file
func (s *FileStore) Reload() error {
	profiles, err := readProfiles(s.path, s.defaultDataCenter)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	return nil
}

// Get returns the named profile or a not-found error
func (s *FileStore) Get(name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.profiles, name)
}

// List returns every profile sorted by name
func (s *FileStore) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.profiles)
}

// Put adds or replaces a profile and rewrites the file, keeping the previous
// version as <path>.back1. The new file is renamed into place, so readers
// never see a half-written one.
func (s *FileStore) Put(p Profile) error {
	if p.Name == "" {
		return errors.NewInvalidRequestError("profile name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]Profile, len(s.profiles)+1)
	for name, existing := range s.profiles {
		next[name] = existing
	}
	next[p.Name] = p

	data, err := toml.Marshal(fileFormat{Profiles: next})
	if err != nil {
		return errors.Wrap(err, "failed to marshal profiles")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return errors.Wrap(err, "failed to create profiles directory")
	}
	if err := backup(s.path); err != nil {
		return err
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}

	if p.DataCenter == "" {
		p.DataCenter = s.defaultDataCenter
	}
	next[p.Name] = p
	s.profiles = next
	return nil
}

func readProfiles(path, defaultDataCenter string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]Profile), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read profiles file %s", path)
	}

	var f fileFormat
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to parse profiles file %s", path),
			"profiles are tables named [profiles.<name>]")
	}

	profiles := make(map[string]Profile, len(f.Profiles))
	for name, p := range f.Profiles {
		p.Name = name
		if p.DataCenter == "" {
			p.DataCenter = defaultDataCenter
		}
		profiles[name] = p
	}
	return profiles, nil
}

// backup copies the current file to .back1 before it is overwritten
func backup(path string) error {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read profiles for backup")
	}
	if err := os.WriteFile(path+".back1", content, 0600); err != nil {
		return errors.Wrap(err, "failed to write profiles backup")
	}
	return nil
}

// writeAtomic writes data to a temp file next to path and renames it over
// path. The temp file is created 0600 since profiles may hold tokens.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp profiles file")
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to sync %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	committed = true
	return nil
}
