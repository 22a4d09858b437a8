// Package sources gathers the market signals a strategy run starts from.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Kind names one family of signals.
type Kind string

const (
	Market      Kind = "market"
	Customer    Kind = "customer"
	Competitive Kind = "competitive"
	Company     Kind = "company"
)

// Kinds lists every signal family in collection order.
var Kinds = []Kind{Market, Customer, Competitive, Company}

// OriginSimulated marks data that came from the built-in sample set.
const OriginSimulated = "simulated"

// Signal is the data one provider produced and where it came from.
type Signal struct {
	Kind   Kind           `json:"kind"`
	Data   map[string]any `json:"data"`
	Origin string         `json:"origin"`
	Cached bool           `json:"cached,omitempty"`
}

// Provider collects one family of signals. Collect returns nil, nil when
// the provider has nothing to offer.
type Provider interface {
	Kind() Kind
	Collect(ctx context.Context) (*Signal, error)
}

// FileProvider reads <Dir>/<kind>.yaml, .yml or .json. When no file exists
// and Simulate is set it answers with the built-in sample data.
type FileProvider struct {
	Of       Kind
	Dir      string
	Simulate bool
}

func (p *FileProvider) Kind() Kind { return p.Of }

func (p *FileProvider) Collect(ctx context.Context) (*Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := p.find()
	if err != nil {
		return nil, err
	}
	if path == "" {
		if !p.Simulate {
			return nil, nil
		}
		return &Signal{Kind: p.Of, Data: Simulated(p.Of), Origin: OriginSimulated}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s signals: %w", p.Of, err)
	}
	// JSON is valid YAML, so one decoder serves both.
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc) == 0 {
		return nil, nil
	}
	return &Signal{Kind: p.Of, Data: doc, Origin: path}, nil
}

func (p *FileProvider) find() (string, error) {
	if p.Dir == "" {
		return "", nil
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(p.Dir, string(p.Of)+ext)
		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		return path, nil
	}
	return "", nil
}

// Collected holds the output of every provider that produced data.
type Collected struct {
	Market      map[string]any
	Customer    map[string]any
	Competitive map[string]any
	Company     map[string]any
	Signals     []Signal
}

// Names lists the kinds that produced data, in collection order.
func (c *Collected) Names() []string {
	names := make([]string, 0, len(c.Signals))
	for _, s := range c.Signals {
		names = append(names, string(s.Kind))
	}
	return names
}

// CollectAll runs providers concurrently. The first failure cancels the rest.
func CollectAll(ctx context.Context, providers []Provider) (*Collected, error) {
	results := make([]*Signal, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range providers {
		if provider == nil {
			continue
		}
		g.Go(func() error {
			sig, err := provider.Collect(gctx)
			if err != nil {
				return fmt.Errorf("%s provider: %w", provider.Kind(), err)
			}
			results[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Collected{}
	for _, sig := range results {
		if sig == nil {
			continue
		}
		switch sig.Kind {
		case Market:
			out.Market = sig.Data
		case Customer:
			out.Customer = sig.Data
		case Competitive:
			out.Competitive = sig.Data
		case Company:
			out.Company = sig.Data
		}
		out.Signals = append(out.Signals, *sig)
	}
	return out, nil
}

// Defaults returns a file provider for every kind, reading dir.
func Defaults(dir string, simulate bool) []Provider {
	providers := make([]Provider, 0, len(Kinds))
	for _, k := range Kinds {
		providers = append(providers, &FileProvider{Of: k, Dir: dir, Simulate: simulate})
	}
	return providers
}
