package data

import (
	_ "embed"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultTemplateName is the built-in template that always exists and can
// never be unloaded.
const DefaultTemplateName = "@"

// TemplateDirSuffix marks a template directory under the mascots path.
const TemplateDirSuffix = ".mascot"

var (
	ErrUnknownTemplate = errors.New("unknown mascot template")
	ErrNotDeletable    = errors.New("mascot template cannot be unloaded")
	ErrInvalidTemplate = errors.New("invalid mascot template")
)

//go:embed default.lua
var defaultScript []byte

// Template is one loaded mascot definition. ID is assigned by the Catalog
// when the template is registered.
type Template struct {
	ID          int64
	Name        string
	Path        string
	Description string
	Script      []byte
	Deletable   bool
}

// DefaultTemplate returns the built-in template backed by the embedded
// behavior script.
func DefaultTemplate() *Template {
	return &Template{
		Name:        DefaultTemplateName,
		Description: "built-in mascot",
		Script:      defaultScript,
		Deletable:   false,
	}
}

// NormalizeName trims surrounding space and folds the name to NFC, so names
// read from decomposing file systems match names typed by users.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// LastPathComponent drops everything up to the last '/' or '\'.
func LastPathComponent(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
