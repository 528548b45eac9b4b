package repository

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaMismatchError reports a remote cache or install record that does not
// have the expected shape.
type SchemaMismatchError struct {
	Document string // "remote" or "local"
	Path     string
	Err      error
}

func (e *SchemaMismatchError) Error() string {
	where := e.Document + " repository"
	if e.Path != "" {
		where += " " + e.Path
	}
	return fmt.Sprintf("%s does not match the expected format: %v", where, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error {
	return e.Err
}

// DecodeRemote parses a catalog document. Unknown fields are accepted so
// newer catalogs stay readable; missing names or versions are not.
func DecodeRemote(data []byte) (*RemoteRepository, error) {
	var r RemoteRepository
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &SchemaMismatchError{Document: "remote", Err: err}
	}
	if err := r.validate(); err != nil {
		return nil, &SchemaMismatchError{Document: "remote", Err: err}
	}
	return &r, nil
}

// DecodeLocal parses an install record.
func DecodeLocal(data []byte) (*LocalRepository, error) {
	var r LocalRepository
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &SchemaMismatchError{Document: "local", Err: err}
	}
	if err := r.validate(); err != nil {
		return nil, &SchemaMismatchError{Document: "local", Err: err}
	}
	if r.Installed == nil {
		r.Installed = []*LocalSolver{}
	}
	return &r, nil
}

// EncodeLocal renders the install record as indented JSON. Empty lists are
// written as [] rather than null.
func EncodeLocal(r *LocalRepository) ([]byte, error) {
	out := LocalRepository{
		FormatVersion: r.FormatVersion,
		Installed:     make([]*LocalSolver, len(r.Installed)),
	}
	copy(out.Installed, r.Installed)
	for i, s := range out.Installed {
		if s.Versions == nil {
			cp := *s
			cp.Versions = []InstalledSolverVersion{}
			out.Installed[i] = &cp
		}
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode local repository: %w", err)
	}
	return append(data, '\n'), nil
}

// EncodeRemote renders a catalog as indented JSON.
func EncodeRemote(r *RemoteRepository) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode remote repository: %w", err)
	}
	return append(data, '\n'), nil
}

func (r *RemoteRepository) validate() error {
	if r.Solvers == nil {
		return errors.New(`missing "solvers"`)
	}
	for i, s := range r.Solvers {
		if s == nil || s.Name == "" {
			return fmt.Errorf("solver #%d has no name", i)
		}
		for j, v := range s.Versions {
			if v.Version == "" {
				return fmt.Errorf("solver %s: version #%d has no version string", s.Name, j)
			}
		}
	}
	return nil
}

func (r *LocalRepository) validate() error {
	for i, s := range r.Installed {
		if s == nil || s.Name == "" {
			return fmt.Errorf("installed solver #%d has no name", i)
		}
		for j, v := range s.Versions {
			if v.Version == "" {
				return fmt.Errorf("installed solver %s: version #%d has no version string", s.Name, j)
			}
		}
	}
	return nil
}
