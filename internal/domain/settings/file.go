package settings

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
	"github.com/okian/composite/pkg/metrics"
)

type fileDoc struct {
	Weights map[string]float64 `koanf:"weights"`
	Bands   model.BandConfig   `koanf:"bands"`
}

// FileProvider serves settings from a YAML file such as:
//
//	weights:
//	  psymetrics: 40
//	  skills: 30
//	bands:
//	  a: 90
//
// Keys left out keep their defaults. A failed reload keeps the previous settings.
type FileProvider struct {
	path    string
	current atomic.Pointer[Settings]
	logger  logger.Logger
}

// FileOption applies a configuration option to the FileProvider.
type FileOption func(*FileProvider)

// WithLogger sets a custom logger for the provider.
func WithLogger(l logger.Logger) FileOption {
	return func(p *FileProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewFileProvider loads path once and returns a provider serving its contents.
func NewFileProvider(ctx context.Context, path string, opts ...FileOption) (*FileProvider, error) {
	p := &FileProvider{path: path}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("settings")
	}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns a copy of the last successfully loaded settings.
func (p *FileProvider) Current(context.Context) Settings {
	return p.current.Load().Clone()
}

// Reload re-reads the file. On failure the previous settings stay active.
func (p *FileProvider) Reload(ctx context.Context) error {
	s, ignored, err := load(p.path)
	if err != nil {
		metrics.RecordSettingsReload("error")
		p.logger.Error(ctx, "settings reload failed; keeping previous settings",
			logger.String("path", p.path),
			logger.Error(err),
		)
		return err
	}
	if len(ignored) > 0 {
		p.logger.Warn(ctx, "ignoring unknown component weights",
			logger.String("path", p.path),
			logger.Any("keys", ignored),
		)
	}
	p.current.Store(&s)
	metrics.RecordSettingsReload("ok")
	p.logger.Info(ctx, "settings loaded",
		logger.String("path", p.path),
		logger.Any("weights", s.Weights),
		logger.Float64("band_a", s.Bands.A),
		logger.Float64("band_b", s.Bands.B),
		logger.Float64("band_c", s.Bands.C),
	)
	return nil
}

// Watch reloads the file whenever it is written or replaced, until ctx is
// done. The parent directory is watched so saves that rename a temporary
// file over the path are seen too.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrLoadSettings, p.path, err)
	}
	defer watcher.Close()

	target := filepath.Clean(p.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrLoadSettings, p.path, err)
	}
	p.logger.Info(ctx, "watching settings file", logger.String("path", p.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			_ = p.Reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error(ctx, "settings watcher error", logger.Error(err))
		}
	}
}

func load(path string) (Settings, []string, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Settings{}, nil, fmt.Errorf("%w: %s: %w", ErrLoadSettings, path, err)
	}

	doc := fileDoc{Bands: model.DefaultBands()}
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Settings{}, nil, fmt.Errorf("%w: %s: %w", ErrLoadSettings, path, err)
	}
	if err := validateBands(doc.Bands); err != nil {
		return Settings{}, nil, fmt.Errorf("%w: %s: %w", ErrLoadSettings, path, err)
	}

	weights, ignored := model.ResolveWeights(doc.Weights)
	return Settings{Weights: weights, Bands: doc.Bands}, ignored, nil
}

func validateBands(b model.BandConfig) error {
	for _, v := range []float64{b.A, b.B, b.C} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bands must be finite")
		}
	}
	if b.A < b.B || b.B < b.C {
		return fmt.Errorf("bands must satisfy a >= b >= c, got a=%v b=%v c=%v", b.A, b.B, b.C)
	}
	return nil
}
