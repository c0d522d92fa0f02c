package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dunamismax/facefilter/internal/domain"
)

type objectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

// ObjectStoreSource loads the catalog from a JSON object on first successful
// read and serves that snapshot afterwards.
type ObjectStoreSource struct {
	Storage   objectReader
	ObjectKey string

	mu     sync.Mutex
	static *Static
}

func (s *ObjectStoreSource) Filters(ctx context.Context) ([]domain.Filter, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.static == nil {
		data, err := s.Storage.ReadObject(ctx, s.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("load remote filter catalog: %w", err)
		}
		static, err := Load(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		s.static = static
	}
	return s.static.Filters(ctx)
}
