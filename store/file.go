package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/util"
)

// FileStore keeps one JSON document per model under a directory
type FileStore struct {
	dir string
}

var _ core.ModelStore = &FileStore{}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileStore) Save(ctx context.Context, id string, params map[string][]float64, meta core.ModelMetadata) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := newCheckpoint(params, meta)
	if err := cp.validate(); err != nil {
		return err
	}
	return util.SaveJson(f.path(id), cp)
}

func (f *FileStore) Load(ctx context.Context, id string) (map[string][]float64, core.ModelMetadata, error) {
	if err := validateID(id); err != nil {
		return nil, core.ModelMetadata{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, core.ModelMetadata{}, err
	}
	var cp checkpoint
	if err := util.ReadJson(f.path(id), &cp); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ModelMetadata{}, fmt.Errorf("%w: %s", core.ErrModelNotFound, id)
		}
		return nil, core.ModelMetadata{}, fmt.Errorf("error reading model %s: %w", id, err)
	}
	if err := cp.validate(); err != nil {
		return nil, core.ModelMetadata{}, err
	}
	return cp.Parameters, cp.Metadata, nil
}
