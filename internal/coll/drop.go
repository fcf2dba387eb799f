package coll

import (
	"context"
	"fmt"

	"github.com/jdbx/jdbx/internal/events"
	"github.com/jdbx/jdbx/internal/jdbxerr"
)

// Drop issues DROP TABLE IF EXISTS, tears down the event emitter, and
// invalidates the template cache (spec §4.5 drop).
func (c *Collection) Drop(ctx context.Context) error {
	ex, err := c.execer(ctx)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, c.name)); err != nil {
		return jdbxerr.Classify("coll.Drop", err)
	}
	if c.metadataIndexEnabled() {
		_, _ = ex.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, c.metadataIndexTable()))
	}

	c.emit(events.Drop, c.name)

	c.mu.Lock()
	c.emitter = nil
	c.mu.Unlock()
	c.InvalidateCache()
	return nil
}

// Validate applies the schema validator, returning doc unchanged or a
// VALIDATION error (spec §4.5 validate/validateSync — jdbx's validator
// hook is synchronous, so the two spec methods collapse into one).
func (c *Collection) Validate(doc Doc) (Doc, error) {
	if err := c.runValidator(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// CountDiagnostics returns both the fast estimated count and the exact
// filtered count so callers can detect drift between them (SPEC_FULL.md
// §4, grounded on the teacher's dual count helpers in queries.go).
type CountDiagnostics struct {
	Estimated int64
	Exact     int64
}

func (c *Collection) CountDiagnostics(ctx context.Context) (*CountDiagnostics, error) {
	estimated, err := c.EstimatedDocumentCount(ctx, FindOptions{})
	if err != nil {
		return nil, err
	}
	exact, err := c.Count(ctx, nil, FindOptions{})
	if err != nil {
		return nil, err
	}
	return &CountDiagnostics{Estimated: estimated, Exact: exact}, nil
}
