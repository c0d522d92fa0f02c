package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dunamismax/facefilter/internal/domain"
)

//go:embed filters.json
var defaultFilters []byte

// Source lists the available filters. Implementations must not let callers
// mutate their backing data.
type Source interface {
	Filters(ctx context.Context) ([]domain.Filter, error)
}

// Static is an immutable in-memory catalog.
type Static struct {
	filters []domain.Filter
}

func NewStatic(filters []domain.Filter) (*Static, error) {
	if err := validate(filters); err != nil {
		return nil, err
	}
	own := make([]domain.Filter, len(filters))
	copy(own, filters)
	return &Static{filters: own}, nil
}

// Default returns the built-in catalog.
func Default() *Static {
	s, err := Load(bytes.NewReader(defaultFilters))
	if err != nil {
		panic(fmt.Sprintf("embedded filter catalog is invalid: %v", err))
	}
	return s
}

func Load(r io.Reader) (*Static, error) {
	var filters []domain.Filter
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&filters); err != nil {
		return nil, fmt.Errorf("decode filter catalog: %w", err)
	}
	return NewStatic(filters)
}

func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open filter catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (s *Static) Filters(ctx context.Context) ([]domain.Filter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Filter, len(s.filters))
	copy(out, s.filters)
	return out, nil
}

// Lookup finds a filter by id. ok is false when no entry matches.
func Lookup(ctx context.Context, src Source, id string) (domain.Filter, bool, error) {
	filters, err := src.Filters(ctx)
	if err != nil {
		return domain.Filter{}, false, err
	}
	for _, f := range filters {
		if f.ID == id {
			return f, true, nil
		}
	}
	return domain.Filter{}, false, nil
}

func validate(filters []domain.Filter) error {
	seen := make(map[string]struct{}, len(filters))
	for i, f := range filters {
		id := strings.TrimSpace(f.ID)
		if id == "" {
			return fmt.Errorf("filters[%d].id is required", i)
		}
		if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
			return fmt.Errorf("filters[%d].id %q must not contain path separators", i, id)
		}
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("filters[%d].name is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate filter id: %s", id)
		}
		seen[id] = struct{}{}
	}
	if len(filters) == 0 {
		return errors.New("filter catalog is empty")
	}
	return nil
}
