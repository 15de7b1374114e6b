// Package store provides vector store backend options.
package store

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/docmind/pkg/options"
	milvusopts "github.com/kart-io/docmind/pkg/options/milvus"
)

var _ options.IOptions = (*Options)(nil)

const (
	// BackendMemory 进程内暴力检索（默认）。
	BackendMemory = "memory"
	// BackendMilvus 每个知识库一个 Milvus 集合。
	BackendMilvus = "milvus"
)

// Options 向量存储配置。
type Options struct {
	// Backend 存储后端 memory|milvus。
	Backend string `json:"backend" mapstructure:"backend"`

	// Milvus 在 backend=milvus 时使用。
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`
}

// NewOptions creates default store options.
func NewOptions() *Options {
	return &Options{
		Backend: BackendMemory,
		Milvus:  milvusopts.NewOptions(),
	}
}

// AddFlags adds store flags, including the milvus group.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Backend, options.Join(append(prefixes, "store")...)+"backend", o.Backend, "Vector store backend (memory|milvus).")
	if o.Milvus == nil {
		o.Milvus = milvusopts.NewOptions()
	}
	o.Milvus.AddFlags(fs, append(prefixes, "store")...)
}

// Validate validates the store options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	switch o.Backend {
	case BackendMemory:
		return nil
	case BackendMilvus:
		return o.Milvus.Validate()
	default:
		return []error{fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendMilvus, o.Backend)}
	}
}

// Complete completes the store options with defaults.
func (o *Options) Complete() error {
	if o.Backend == "" {
		o.Backend = BackendMemory
	}
	if o.Milvus == nil {
		o.Milvus = milvusopts.NewOptions()
	}
	return nil
}
