// Package project resolves labeling projects from the on-disk registry.
//
// The registry is a YAML file mapping project keys to data directories:
//
//	active: mouse
//	projects:
//	  mouse:
//	    data_dir: /data/mouse
//
// Each data directory may carry a project.yaml with view and keypoint names.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const metadataFile = "project.yaml"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNoActiveProject = errors.New("no active project")
)

// Project is an immutable snapshot of one project's layout. It is built per
// request and never shared for mutation.
type Project struct {
	Key           string
	DataDir       string
	VideosDir     string
	Views         []string
	KeypointNames []string
}

type registryFile struct {
	Active   string                 `yaml:"active"`
	Projects map[string]projectPath `yaml:"projects"`
}

type projectPath struct {
	DataDir string `yaml:"data_dir"`
}

type metadata struct {
	ViewNames     []string `yaml:"view_names"`
	KeypointNames []string `yaml:"keypoint_names"`
}

// Registry reads the registry file on every lookup so edits made by other
// tools are picked up without a restart.
type Registry struct {
	path string
}

func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) load() (*registryFile, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &registryFile{}, nil
		}
		return nil, fmt.Errorf("read project registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse project registry: %w", err)
	}
	return &f, nil
}

// Get returns the project registered under key.
func (r *Registry) Get(key string) (*Project, error) {
	f, err := r.load()
	if err != nil {
		return nil, err
	}
	p, ok := f.Projects[key]
	if !ok || p.DataDir == "" {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, key)
	}
	return build(key, p.DataDir)
}

// Resolve returns the project for key, or the active project when key is
// empty.
func (r *Registry) Resolve(key string) (*Project, error) {
	if key != "" {
		return r.Get(key)
	}
	f, err := r.load()
	if err != nil {
		return nil, err
	}
	if f.Active == "" {
		return nil, ErrNoActiveProject
	}
	return r.Get(f.Active)
}

// All returns every registered project sorted by key. Projects whose
// metadata cannot be read are reported through the returned error but do
// not hide the others.
func (r *Registry) All() ([]*Project, error) {
	f, err := r.load()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(f.Projects))
	for k := range f.Projects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*Project
	var errs []error
	for _, k := range keys {
		p, err := build(k, f.Projects[k].DataDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

func build(key, dataDir string) (*Project, error) {
	if !filepath.IsAbs(dataDir) {
		return nil, fmt.Errorf("project %s: data_dir must be absolute", key)
	}
	dataDir = filepath.Clean(dataDir)

	p := &Project{
		Key:       key,
		DataDir:   dataDir,
		VideosDir: filepath.Join(dataDir, "videos"),
	}

	raw, err := os.ReadFile(filepath.Join(dataDir, metadataFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return p, nil
	case err != nil:
		return nil, fmt.Errorf("project %s: %w", key, err)
	}

	var md metadata
	if err := yaml.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("project %s: parse %s: %w", key, metadataFile, err)
	}
	p.Views = md.ViewNames
	p.KeypointNames = md.KeypointNames
	return p, nil
}
