package durable

import (
	"errors"
	"fmt"
	"strings"
)

// Validator checks restored records before they are written back to the
// store. Records that fail are skipped.
type Validator interface {
	ValidateProject(p Project) error
	ValidateChapter(c Chapter) error
}

// SchemaValidator enforces the structural rules every stored record obeys.
type SchemaValidator struct {
	// MaxContentBytes rejects oversized content. Zero means no limit.
	MaxContentBytes int
}

var _ Validator = SchemaValidator{}

func (v SchemaValidator) ValidateProject(p Project) error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if p.CurrentWordCount < 0 {
		errs = append(errs, fmt.Errorf("negative word count %d", p.CurrentWordCount))
	}
	if v.MaxContentBytes > 0 && len(p.Content) > v.MaxContentBytes {
		errs = append(errs, fmt.Errorf("content is %d bytes, limit %d", len(p.Content), v.MaxContentBytes))
	}
	if !p.CreatedAt.IsZero() && !p.UpdatedAt.IsZero() && p.UpdatedAt.Before(p.CreatedAt) {
		errs = append(errs, errors.New("updatedAt precedes createdAt"))
	}
	for _, c := range p.Chapters {
		if err := v.ValidateChapter(c); err != nil {
			errs = append(errs, fmt.Errorf("chapter %q: %w", c.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid project %q: %w", p.ID, errors.Join(errs...))
	}
	return nil
}

func (v SchemaValidator) ValidateChapter(c Chapter) error {
	var errs []error
	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		errs = append(errs, errors.New("projectId is required"))
	}
	if c.WordCount < 0 {
		errs = append(errs, fmt.Errorf("negative word count %d", c.WordCount))
	}
	if c.Order < 0 {
		errs = append(errs, fmt.Errorf("negative order %d", c.Order))
	}
	if v.MaxContentBytes > 0 && len(c.Content) > v.MaxContentBytes {
		errs = append(errs, fmt.Errorf("content is %d bytes, limit %d", len(c.Content), v.MaxContentBytes))
	}
	return errors.Join(errs...)
}
