package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/session"
	"github.com/roach88/objgraph/internal/value"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the saved state and
// returns one message per failure.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	if len(assertions) == 0 {
		return nil
	}
	s := h.coord.NewSession(session.WithName("assertions"))
	defer s.Close()

	var errs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, s, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, s *session.Session, a Assertion) error {
	switch a.Type {
	case AssertCount:
		return h.assertCount(ctx, s, a)
	case AssertExists, AssertAbsent:
		return h.assertPresence(ctx, s, a)
	case AssertValues:
		return h.assertValues(ctx, s, a)
	case AssertRelated:
		return h.assertRelated(ctx, s, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) assertCount(ctx context.Context, s *session.Session, a Assertion) error {
	pred, err := query.ParseConditions(h.reg, a.Entity, a.Where, false)
	if err != nil {
		return err
	}
	req, err := query.NewFetchRequest(h.reg, a.Entity, query.Where(pred))
	if err != nil {
		return err
	}
	n, err := s.Count(ctx, req)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s object(s) matching %s", a.Count, a.Entity, describeWhere(a.Where)),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func (h *Harness) assertPresence(ctx context.Context, s *session.Session, a Assertion) error {
	_, err := h.object(ctx, s, a.Object)
	switch {
	case err != nil && !errors.Is(err, session.ErrObjectNotFound):
		return err
	case a.Type == AssertExists && err != nil:
		return &AssertionError{Type: a.Type, Expected: a.Object + " is stored", Actual: "not found"}
	case a.Type == AssertAbsent && err == nil:
		return &AssertionError{Type: a.Type, Expected: a.Object + " is not stored", Actual: "found"}
	}
	return nil
}

func (h *Harness) assertValues(ctx context.Context, s *session.Session, a Assertion) error {
	inst, err := h.object(ctx, s, a.Object)
	if err != nil {
		return err
	}
	vals, err := h.values(h.reg.MustEntity(inst.Entity()), a.Values)
	if err != nil {
		return err
	}
	var mismatches []string
	for _, name := range value.SortedKeys(vals) {
		if got := inst.Get(name); !sameValue(vals[name], got) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %s, got %s", name, value.Describe(vals[name]), value.Describe(got)))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertValues,
			Expected: fmt.Sprintf("%s to have %v", a.Object, a.Values),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}

func (h *Harness) assertRelated(ctx context.Context, s *session.Session, a Assertion) error {
	inst, err := h.object(ctx, s, a.Object)
	if err != nil {
		return err
	}
	if _, ok := h.reg.MustEntity(inst.Entity()).Relationship(a.Relationship); !ok {
		return fmt.Errorf("%s has no relationship %q", inst.Entity(), a.Relationship)
	}
	got := h.names(inst.RelatedIDs(a.Relationship))
	slices.Sort(got)
	want := slices.Sorted(slices.Values(a.Targets))
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertRelated,
			Expected: fmt.Sprintf("%s.%s = %v", a.Object, a.Relationship, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func describeWhere(where []string) string {
	if len(where) == 0 {
		return "TRUEPREDICATE"
	}
	return strings.Join(where, " AND ")
}
