package urlgen

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// File is the on-disk descriptor document.
type File struct {
	URLs []Descriptor `yaml:"urls"`
}

// Options controls descriptor loading.
type Options struct {
	// Strict fails on the first invalid descriptor. Otherwise invalid
	// descriptors are skipped and reported through URLSet.Skipped.
	Strict       bool
	MaxExpansion int
}

// Loader reads descriptor files and expands them into a URLSet.
type Loader struct {
	opts   Options
	logger *zap.Logger
}

// NewLoader constructs a Loader.
func NewLoader(opts Options, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{opts: opts, logger: logger.Named("urlgen")}
}

// LoadFile reads and expands the descriptor file at path.
func (l *Loader) LoadFile(path string) (*URLSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor file: %w", err)
	}
	return l.Load(bytes.NewReader(data))
}

// Load reads and expands a descriptor document.
func (l *Loader) Load(r io.Reader) (*URLSet, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(l.opts.Strict)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode descriptor file: %w", err)
	}
	return l.Expand(file.URLs)
}

// Expand expands descriptors in order, enforcing unique names.
func (l *Loader) Expand(descriptors []Descriptor) (*URLSet, error) {
	expander := Expander{MaxExpansion: l.opts.MaxExpansion}
	var (
		targets []crawler.Target
		skipped *multierror.Error
	)
	names := make(map[string]struct{}, len(descriptors))
	for i, d := range descriptors {
		var err error
		if _, dup := names[d.Name]; dup && d.Name != "" {
			err = &crawler.ConfigError{Descriptor: d.Name, Field: "name", Reason: "duplicate descriptor name"}
		}
		var expanded []crawler.Target
		if err == nil {
			expanded, err = expander.Expand(d)
		}
		if err != nil {
			if l.opts.Strict {
				return nil, fmt.Errorf("descriptor %d: %w", i, err)
			}
			l.logger.Warn("skipping invalid descriptor",
				zap.Int("index", i),
				zap.String("name", d.Name),
				zap.Error(err),
			)
			skipped = multierror.Append(skipped, err)
			continue
		}
		names[d.Name] = struct{}{}
		l.logger.Debug("descriptor expanded",
			zap.String("name", d.Name),
			zap.String("type", string(d.EffectiveKind())),
			zap.Int("urls", len(expanded)),
		)
		targets = append(targets, expanded...)
	}
	set := NewURLSet(targets)
	set.skipped = skipped.ErrorOrNil()
	return set, nil
}
