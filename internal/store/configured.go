package store

import (
	"context"
	"fmt"
	"os"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
)

// LoadConfigured returns the startup graph: the file at conf.Path when set,
// otherwise the record named conf.Name in st.
func LoadConfigured(ctx context.Context, conf config.GraphConf, st Store) (codec.Record, error) {
	if conf.Path == "" {
		return st.Load(ctx, conf.Name)
	}
	if conf.Format == "" {
		return codec.ReadFile(conf.Path)
	}
	f, err := codec.ParseFormat(conf.Format)
	if err != nil {
		return codec.Record{}, err
	}
	data, err := os.ReadFile(conf.Path)
	if err != nil {
		return codec.Record{}, fmt.Errorf("read graph %s: %w", conf.Path, err)
	}
	return codec.Unmarshal(data, f)
}
