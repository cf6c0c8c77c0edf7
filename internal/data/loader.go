package data

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the per-template manifest inside a template directory.
const ManifestFile = "mascot.yaml"

const defaultScriptFile = "behavior.lua"

type manifest struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Script      string `yaml:"script"`
}

// LoadTemplate reads one <Name>.mascot directory.
func LoadTemplate(dir string) (*Template, error) {
	stem := NormalizeName(strings.TrimSuffix(filepath.Base(dir), TemplateDirSuffix))

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ManifestFile, err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	name := NormalizeName(m.Name)
	if name == "" {
		name = stem
	}
	if name != stem {
		return nil, fmt.Errorf("%w: manifest name %q does not match directory %q", ErrInvalidTemplate, name, stem)
	}
	if name == DefaultTemplateName {
		return nil, fmt.Errorf("%w: name %q is reserved", ErrInvalidTemplate, name)
	}

	scriptFile := m.Script
	if scriptFile == "" {
		scriptFile = defaultScriptFile
	}
	if filepath.Base(scriptFile) != scriptFile {
		return nil, fmt.Errorf("%w: script %q must be a file in the template directory", ErrInvalidTemplate, scriptFile)
	}
	script, err := os.ReadFile(filepath.Join(dir, scriptFile))
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	return &Template{
		Name:        name,
		Path:        dir,
		Description: m.Description,
		Script:      script,
		Deletable:   true,
	}, nil
}

// LoadDir loads every template directory under root. Directories that fail
// to load are logged and skipped. A missing root yields no templates.
func LoadDir(root string, log *zap.Logger) ([]*Template, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mascots dir %s: %w", root, err)
	}
	var out []*Template
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), TemplateDirSuffix) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		t, err := LoadTemplate(dir)
		if err != nil {
			log.Warn("skipping mascot template", zap.String("dir", dir), zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// TemplateDir is where a template of the given name lives under root.
func TemplateDir(root, name string) string {
	return filepath.Join(root, name+TemplateDirSuffix)
}
