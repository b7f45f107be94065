package template

import "errors"

var (
	// ErrTemplateNotFound indicates the requested template does not exist.
	ErrTemplateNotFound = errors.New("template: not found")

	// ErrTemplateExists indicates a create, rename, or duplicate would
	// overwrite an existing template.
	ErrTemplateExists = errors.New("template: already exists")

	// ErrInvalidName indicates a template or path name failed validation.
	ErrInvalidName = errors.New("template: invalid name")
)
