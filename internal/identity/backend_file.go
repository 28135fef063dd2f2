package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
	"gopkg.in/yaml.v3"
)

const fileFormatVersion = 1

// FileBackend stores all scopes in one YAML document. Every save rewrites
// the whole document through a temporary file and a rename, so a crash
// leaves either the old or the new document on disk.
type FileBackend struct {
	path string

	mu  sync.Mutex
	doc fileDocument
}

type fileDocument struct {
	Version int                  `yaml:"version"`
	Scopes  map[string]fileScope `yaml:"scopes"`
}

type fileScope struct {
	Devices map[string]fileIdentity `yaml:"devices"`
	Pending []filePending           `yaml:"pending"`
}

type fileIdentity struct {
	MACs      []string  `yaml:"macs"`
	Hostname  string    `yaml:"hostname,omitempty"`
	IPv4      string    `yaml:"ipv4,omitempty"`
	CreatedAt time.Time `yaml:"created_at,omitempty"`
}

type filePending struct {
	MAC       string    `yaml:"mac"`
	Hostname  string    `yaml:"hostname,omitempty"`
	FirstSeen time.Time `yaml:"first_seen"`
	LastSeen  time.Time `yaml:"last_seen"`
}

// NewFileBackend returns a backend for the document at path. The file is
// created on the first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{
		path: path,
		doc:  fileDocument{Version: fileFormatVersion, Scopes: make(map[string]fileScope)},
	}
}

// Load reads the document. A missing file yields no scopes.
func (b *FileBackend) Load(_ context.Context) (map[string]ScopeState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		b.doc.Scopes = make(map[string]fileScope)
		return map[string]ScopeState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.path, err)
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("%s has format version %d, newest supported is %d", b.path, doc.Version, fileFormatVersion)
	}
	if doc.Scopes == nil {
		doc.Scopes = make(map[string]fileScope)
	}
	doc.Version = fileFormatVersion
	b.doc = doc

	out := make(map[string]ScopeState, len(doc.Scopes))
	for scope, fsc := range doc.Scopes {
		st, err := fsc.toState(scope)
		if err != nil {
			return nil, fmt.Errorf("%s scope %q: %w", b.path, scope, err)
		}
		out[scope] = st
	}
	return out, nil
}

// SaveScope replaces scope in the document and rewrites the file.
func (b *FileBackend) SaveScope(_ context.Context, scope string, st ScopeState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, existed := b.doc.Scopes[scope]
	b.doc.Scopes[scope] = fromState(st)
	if err := b.write(); err != nil {
		if existed {
			b.doc.Scopes[scope] = old
		} else {
			delete(b.doc.Scopes, scope)
		}
		return err
	}
	return nil
}

func (b *FileBackend) write() error {
	data, err := yaml.Marshal(&b.doc)
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replace %s: %w", b.path, err)
	}
	return nil
}

func fromState(st ScopeState) fileScope {
	fsc := fileScope{
		Devices: make(map[string]fileIdentity, len(st.Identities)),
		Pending: make([]filePending, 0, len(st.Pending)),
	}
	for primary, m := range st.Identities {
		fsc.Devices[primary] = fileIdentity{
			MACs:      slices.Clone(m.AlternateMACs),
			Hostname:  m.Hostname,
			IPv4:      m.IPv4,
			CreatedAt: m.CreatedAt,
		}
	}
	for _, p := range st.Pending {
		fsc.Pending = append(fsc.Pending, filePending{
			MAC:       p.MAC,
			Hostname:  p.Hostname,
			FirstSeen: p.FirstSeenAt,
			LastSeen:  p.LastSeenAt,
		})
	}
	sort.Slice(fsc.Pending, func(i, j int) bool { return fsc.Pending[i].MAC < fsc.Pending[j].MAC })
	return fsc
}

func (fsc fileScope) toState(scope string) (ScopeState, error) {
	st := NewScopeState()
	for rawPrimary, fi := range fsc.Devices {
		primary, err := NormalizeMAC(rawPrimary)
		if err != nil {
			return ScopeState{}, err
		}
		m := models.IdentityMapping{
			PrimaryMAC: primary,
			Scope:      scope,
			Hostname:   fi.Hostname,
			IPv4:       fi.IPv4,
			CreatedAt:  fi.CreatedAt,
		}
		for _, raw := range fi.MACs {
			alt, err := NormalizeMAC(raw)
			if err != nil {
				return ScopeState{}, err
			}
			if alt != primary && !slices.Contains(m.AlternateMACs, alt) {
				m.AlternateMACs = append(m.AlternateMACs, alt)
			}
		}
		st.Identities[primary] = m
	}
	for _, fp := range fsc.Pending {
		mac, err := NormalizeMAC(fp.MAC)
		if err != nil {
			return ScopeState{}, err
		}
		st.Pending[mac] = models.PendingMAC{
			MAC:         mac,
			Scope:       scope,
			Hostname:    fp.Hostname,
			Randomized:  IsRandomized(mac),
			FirstSeenAt: fp.FirstSeen,
			LastSeenAt:  fp.LastSeen,
		}
	}
	return st, nil
}
