package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	plua "github.com/aion-project/aion/internal/plugin/lua"
)

// errNotCandidate marks a directory entry that is not a unit at all.
var errNotCandidate = errors.New("not a plugin unit")

// Loader discovers plugin units on the filesystem. It only reads files
// and never executes unit code.
type Loader struct {
	logger *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultUserDir returns ~/.aion/plugins.
func DefaultUserDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aion", "plugins")
	}
	return filepath.Join(home, ".aion", "plugins")
}

// Discover scans locations in order and returns a descriptor for every unit
// found. When two units share a name the one found first wins. Units that
// fail to probe are reported in the second return value and left out of
// the first. Missing locations are skipped.
func (l *Loader) Discover(locations []Location) ([]Descriptor, []*ProbeError) {
	var (
		descs    []Descriptor
		problems []*ProbeError
		seen     = make(map[string]string)
	)

	for _, loc := range locations {
		entries, err := os.ReadDir(loc.Path)
		if err != nil {
			if !os.IsNotExist(err) {
				problems = append(problems, &ProbeError{Path: loc.Path, Err: err})
			}
			continue
		}

		for _, entry := range entries {
			if !IsCandidateName(entry.Name(), entry.IsDir()) {
				continue
			}
			path := filepath.Join(loc.Path, entry.Name())
			desc, err := l.probe(path, entry.IsDir(), loc)
			if errors.Is(err, errNotCandidate) {
				continue
			}
			if err != nil {
				l.logger.Warn("plugin probe failed", zap.String("path", path), zap.Error(err))
				problems = append(problems, &ProbeError{Path: path, Err: err})
				continue
			}
			if first, dup := seen[desc.Name]; dup {
				l.logger.Debug("duplicate plugin name ignored",
					zap.String("plugin", desc.Name),
					zap.String("path", path),
					zap.String("kept", first))
				continue
			}
			seen[desc.Name] = path
			descs = append(descs, desc)
		}
	}

	return descs, problems
}

// Probe reads the descriptor of a single unit at path.
func (l *Loader) Probe(path string, loc Location) (Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Descriptor{}, err
	}
	desc, err := l.probe(path, info.IsDir(), loc)
	if errors.Is(err, errNotCandidate) {
		return Descriptor{}, fmt.Errorf("%s: %w", path, ErrNoEntryPoint)
	}
	return desc, err
}

// IsCandidateName reports whether a directory entry can hold a unit.
// Names starting with "_" or "." are reserved.
func IsCandidateName(name string, dir bool) bool {
	if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
		return false
	}
	return dir || filepath.Ext(name) == ".lua"
}

func (l *Loader) probe(path string, dir bool, loc Location) (Descriptor, error) {
	if dir {
		return l.probeDir(path, loc)
	}
	return l.probeFile(path, loc)
}

// probeFile reads a single-file unit.
func (l *Loader) probeFile(path string, loc Location) (Descriptor, error) {
	md, err := plua.ProbeFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	base := filepath.Base(path)
	m := ManifestFromMetadata(md, filepath.Dir(path), base, strings.TrimSuffix(base, ".lua"))
	return descriptorFrom(m, path, loc)
}

// probeDir reads a directory unit. A manifest file takes precedence over
// the metadata table in the entry file.
func (l *Loader) probeDir(dir string, loc Location) (Descriptor, error) {
	if path, ok := findManifest(dir); ok {
		m, err := readManifest(path)
		if err != nil {
			return Descriptor{}, err
		}
		md, err := plua.ProbeFile(m.MainPath())
		if err != nil {
			return Descriptor{}, err
		}
		m.merge(md)
		m.applyDefaults()
		return descriptorFrom(m, dir, loc)
	}

	for _, entry := range entryFiles {
		main := filepath.Join(dir, entry)
		if _, err := os.Stat(main); err != nil {
			continue
		}
		md, err := plua.ProbeFile(main)
		if err != nil {
			return Descriptor{}, err
		}
		m := ManifestFromMetadata(md, dir, entry, filepath.Base(dir))
		return descriptorFrom(m, dir, loc)
	}

	return Descriptor{}, errNotCandidate
}

func descriptorFrom(m *Manifest, path string, loc Location) (Descriptor, error) {
	if err := m.Validate(); err != nil {
		return Descriptor{}, err
	}
	rev, err := revision(m.MainPath())
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Name:         m.Name,
		Version:      m.Version,
		Description:  m.Description,
		Author:       m.Author,
		Kind:         m.ParsedKind(),
		Dependencies: m.Dependencies,
		Capabilities: m.Capabilities,
		Enabled:      true,
		Source: Source{
			Path:     path,
			Main:     m.MainPath(),
			Revision: rev,
			Location: loc,
		},
	}, nil
}

// revision summarizes a file's modification time and size.
func revision(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size()), nil
}
