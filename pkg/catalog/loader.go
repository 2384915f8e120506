package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/gosec-playbooks/pkg/logx"
	"github.com/user/gosec-playbooks/pkg/playbook"
	"github.com/user/gosec-playbooks/pkg/registry"
)

// IsCatalogFile reports whether path has an extension the loader reads.
func IsCatalogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".hcl":
		return true
	}
	return false
}

// LoadFile parses a single YAML or HCL catalog file.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		return ParseHCL(data, path)
	}
	return ParseYAML(data, path)
}

// LoadPaths reads every catalog file named by paths. Directories are read
// one level deep in lexical order.
func LoadPaths(ctx context.Context, paths ...string) ([]Definition, error) {
	logger := logx.FromContext(ctx)
	var defs []Definition

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}

		files := []string{p}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return nil, err
			}
			files = files[:0]
			for _, entry := range entries {
				if !entry.IsDir() && IsCatalogFile(entry.Name()) {
					files = append(files, filepath.Join(p, entry.Name()))
				}
			}
		}

		for _, f := range files {
			parsed, err := LoadFile(f)
			if err != nil {
				return nil, err
			}
			logger.Debug("Loaded playbook catalog.", "file", f, "playbooks", len(parsed))
			defs = append(defs, parsed...)
		}
	}
	return defs, nil
}

// Options controls how definitions become a registry.
type Options struct {
	Deployment playbook.DeploymentContext
	Paths      []string
	// SkipBuiltin leaves the embedded CIS table out.
	SkipBuiltin bool
	// Strict turns overlapping criteria into a build error instead of a warning.
	Strict bool
}

// Definitions gathers the builtin table (unless skipped) followed by every
// file in opts.Paths.
func Definitions(ctx context.Context, opts Options) ([]Definition, error) {
	var defs []Definition
	if !opts.SkipBuiltin {
		builtin, err := Builtin()
		if err != nil {
			return nil, fmt.Errorf("loading builtin catalog: %w", err)
		}
		defs = append(defs, builtin...)
	}
	extra, err := LoadPaths(ctx, opts.Paths...)
	if err != nil {
		return nil, err
	}
	return append(defs, extra...), nil
}

// Build validates defs and registers them in declaration order.
func Build(ctx context.Context, defs []Definition, opts Options) (*registry.Registry, error) {
	logger := logx.FromContext(ctx)
	r := registry.New()

	for _, def := range defs {
		d, err := playbook.New(def.Spec(opts.Deployment))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Source, err)
		}
		if err := r.Register(d); err != nil {
			return nil, fmt.Errorf("%s: %w", def.Source, err)
		}
	}

	if err := r.CheckDisjoint(); err != nil {
		if opts.Strict {
			return nil, err
		}
		logger.Warn("Playbook criteria overlap; matching findings will be rejected as ambiguous.", "error", err)
	}

	logger.Debug("Playbook registry built.", "playbooks", r.Len())
	return r, nil
}

// Load is Definitions followed by Build.
func Load(ctx context.Context, opts Options) (*registry.Registry, error) {
	defs, err := Definitions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return Build(ctx, defs, opts)
}
