package plugin

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Install copies a unit into the first writable location, registers it
// and loads it when enabled. path may be a .lua file, a unit directory or
// a .zip archive of either. Reinstalling a live plugin reloads it.
func (m *Manager) Install(ctx context.Context, path string) (Descriptor, error) {
	src, err := filepath.Abs(path)
	if err != nil {
		return Descriptor{}, &InstallError{Path: path, Kind: InstallSourceNotFound, Err: err}
	}
	info, err := os.Stat(src)
	if err != nil {
		return Descriptor{}, &InstallError{Path: path, Kind: InstallSourceNotFound, Err: err}
	}

	loc, ok := m.writableLocation()
	if !ok {
		return Descriptor{}, &InstallError{Path: path, Kind: InstallNoWritableLocation}
	}
	if err := os.MkdirAll(loc.Path, 0o755); err != nil {
		return Descriptor{}, &InstallError{Path: path, Kind: InstallCopyFailed, Err: err}
	}

	var target string
	switch {
	case info.IsDir():
		target = filepath.Join(loc.Path, filepath.Base(src))
	case strings.EqualFold(filepath.Ext(src), ".lua"):
		target = filepath.Join(loc.Path, filepath.Base(src))
	case strings.EqualFold(filepath.Ext(src), ".zip"):
		target = filepath.Join(loc.Path, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)))
	default:
		return Descriptor{}, &InstallError{Path: path, Kind: InstallUnsupportedSource}
	}

	probePath := target
	if target != src {
		staging, err := os.MkdirTemp(loc.Path, ".install-*")
		if err != nil {
			return Descriptor{}, &InstallError{Path: path, Kind: InstallCopyFailed, Err: err}
		}
		defer os.RemoveAll(staging)

		probePath = filepath.Join(staging, filepath.Base(target))
		if err := copyUnit(src, probePath, info); err != nil {
			return Descriptor{}, &InstallError{Path: path, Kind: InstallCopyFailed, Err: err}
		}
	}

	desc, err := m.loader.Probe(probePath, loc)
	if err != nil {
		return Descriptor{}, &InstallError{Path: path, Kind: InstallProbeFailed, Err: err}
	}
	if existing, ok := m.registry.Get(desc.Name); ok && existing.Source.Path != target && exists(existing.Source.Path) {
		return Descriptor{}, &InstallError{
			Path: path,
			Kind: InstallNameConflict,
			Err:  fmt.Errorf("plugin %q is provided by %s", desc.Name, existing.Source.Path),
		}
	}

	if probePath != target {
		// the installed unit is only replaced once its successor probed clean
		if err := replaceUnit(probePath, target); err != nil {
			return Descriptor{}, &InstallError{Path: path, Kind: InstallCopyFailed, Err: err}
		}
		if desc, err = m.loader.Probe(target, loc); err != nil {
			return Descriptor{}, &InstallError{Path: path, Kind: InstallProbeFailed, Err: err}
		}
	}

	if _, live := m.hosts[desc.Name]; live {
		if err := m.Unload(ctx, desc.Name); err != nil {
			return Descriptor{}, err
		}
	}
	delete(m.failures, desc.Name)
	stored, _ := m.register(desc)
	m.states[desc.Name] = StateUnloaded
	m.metrics.setRegistered(m.registry.Len())
	m.logger.Info("plugin installed", zap.String("plugin", desc.Name), zap.String("path", target))
	m.emitEvent(ManagerEvent{Type: EventPluginInstalled, Plugin: desc.Name})

	if stored.Enabled {
		if _, err := m.Load(ctx, desc.Name); err != nil {
			return stored, err
		}
	}
	return stored, nil
}

// Uninstall unloads a plugin, deletes its unit and forgets it. Units in
// read-only locations are refused before anything changes.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	desc, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	loc := desc.Source.Location
	if !loc.Writable || !loc.Contains(desc.Source.Path) {
		return &UninstallError{Plugin: name, Kind: UninstallProtectedLocation}
	}

	if err := m.Unload(ctx, name); err != nil {
		m.logger.Warn("unload before uninstall failed", zap.String("plugin", name), zap.Error(err))
	}
	if err := os.RemoveAll(desc.Source.Path); err != nil {
		return &UninstallError{Plugin: name, Kind: UninstallRemoveFailed, Err: err}
	}

	m.registry.Remove(name)
	delete(m.states, name)
	delete(m.failures, name)
	persistErr := m.registry.DropOverride(name)

	m.metrics.setRegistered(m.registry.Len())
	m.logger.Info("plugin uninstalled", zap.String("plugin", name))
	m.emitEvent(ManagerEvent{Type: EventPluginUninstalled, Plugin: name, Error: persistErr})
	return persistErr
}

func (m *Manager) writableLocation() (Location, bool) {
	for _, loc := range m.locations {
		if loc.Writable {
			return loc, true
		}
	}
	return Location{}, false
}

// copyUnit writes a copy of src to target, which must not exist yet.
func copyUnit(src, target string, info fs.FileInfo) error {
	switch {
	case info.IsDir():
		return copyDir(src, target)
	case strings.EqualFold(filepath.Ext(src), ".zip"):
		return extractZip(src, target)
	default:
		return copyFile(src, target, info.Mode().Perm())
	}
}

// replaceUnit moves staged over target. A previous unit at target is set
// aside next to staged and only removed once the move succeeded.
func replaceUnit(staged, target string) error {
	if _, err := os.Lstat(target); os.IsNotExist(err) {
		return os.Rename(staged, target)
	}
	previous := staged + ".previous"
	if err := os.Rename(target, previous); err != nil {
		return err
	}
	if err := os.Rename(staged, target); err != nil {
		if rerr := os.Rename(previous, target); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return os.RemoveAll(previous)
}

func copyDir(src, target string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(target, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, dst, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// extractZip unpacks an archive into target. When every entry sits under
// one top-level directory that directory is stripped.
func extractZip(src, target string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	prefix := commonRoot(r.File)
	for _, f := range r.File {
		name := strings.TrimPrefix(filepath.ToSlash(f.Name), prefix)
		if name == "" {
			continue
		}
		dst := filepath.Join(target, filepath.FromSlash(name))
		if dst != target && !strings.HasPrefix(dst, target+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes the install directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, dst); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// commonRoot returns "dir/" when all entries live under dir, else "".
func commonRoot(files []*zip.File) string {
	var root string
	for _, f := range files {
		name := filepath.ToSlash(f.Name)
		i := strings.Index(name, "/")
		if i < 0 {
			return ""
		}
		if root == "" {
			root = name[:i+1]
		} else if name[:i+1] != root {
			return ""
		}
	}
	return root
}
