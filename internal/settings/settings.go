// Package settings edits the KeY prover's proof-independent settings file,
// where KeY looks up the command used to start each SMT solver.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/magiconair/properties"
)

// KeyPrefix precedes the solver name in a solver command key.
const KeyPrefix = "[SMTSettings]solverCommand"

// Key returns the settings key holding the command of solver.
func Key(solver string) string {
	return KeyPrefix + solver
}

// File is a properties file on disk. Every operation re-reads it so edits
// made by KeY in between are kept.
type File struct {
	path string
}

// Open returns the settings file at path. The file need not exist yet.
func Open(path string) *File {
	return &File{path: path}
}

// Path returns the file's location.
func (f *File) Path() string { return f.path }

// Load reads the file. A missing file yields empty properties.
func (f *File) Load() (*properties.Properties, error) {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		p := properties.NewProperties()
		p.DisableExpansion = true
		return p, nil
	}
	l := &properties.Loader{
		Encoding:         properties.UTF8,
		DisableExpansion: true,
	}
	p, err := l.LoadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings %s: %w", f.path, err)
	}
	p.DisableExpansion = true
	return p, nil
}

// Save replaces the file with p, keeping the comments p was loaded with.
func (f *File) Save(p *properties.Properties) error {
	var buf bytes.Buffer
	if _, err := p.WriteComment(&buf, "#", properties.UTF8); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// SolverCommand returns the command KeY will run for solver.
func (f *File) SolverCommand(solver string) (string, bool, error) {
	p, err := f.Load()
	if err != nil {
		return "", false, err
	}
	v, ok := p.Get(Key(solver))
	return v, ok, nil
}

// SetSolverCommand points KeY at command for solver. Other solvers' entries
// are left as they are.
func (f *File) SetSolverCommand(solver, command string) error {
	p, err := f.Load()
	if err != nil {
		return err
	}
	if _, _, err := p.Set(Key(solver), command); err != nil {
		return fmt.Errorf("failed to set %s: %w", Key(solver), err)
	}
	return f.Save(p)
}

// ClearSolverCommand removes the command for solver and reports whether
// there was one. The file is not rewritten when nothing changes.
func (f *File) ClearSolverCommand(solver string) (bool, error) {
	p, err := f.Load()
	if err != nil {
		return false, err
	}
	if _, ok := p.Get(Key(solver)); !ok {
		return false, nil
	}
	p.Delete(Key(solver))
	return true, f.Save(p)
}

// SolverCommands returns all configured solver commands keyed by solver name.
func (f *File) SolverCommands() (map[string]string, error) {
	p, err := f.Load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for k, v := range p.FilterStripPrefix(KeyPrefix).Map() {
		out[k] = v
	}
	return out, nil
}
