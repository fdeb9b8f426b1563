package confloader

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultEnvPrefix is the default environment variable prefix.
	DefaultEnvPrefix = "RXCKPT_"

	// EnvSectionSeparator separates config sections in environment names.
	EnvSectionSeparator = "__"
)

// Layer names reported by Origin.
const (
	OriginDefault = "default"
	OriginFile    = "file"
	OriginEnv     = "env"
)

// layer is one configuration source. Later layers override earlier ones.
type layer struct {
	name     string
	provider koanf.Provider
	parser   koanf.Parser
}

// Loader merges defaults, a YAML file and the environment into a struct.
type Loader struct {
	envPrefix string
	filePath  string
	defaults  map[string]any

	k       *koanf.Koanf
	origin  map[string]string
	changed []string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML file layer.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithDefaults sets the lowest layer. Keys may be dotted paths.
func WithDefaults(defaults map[string]any) Option {
	return func(l *Loader) { l.defaults = defaults }
}

// NewLoader returns a Loader; nothing is read until Load.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file, if any.
func (l *Loader) FilePath() string {
	return l.filePath
}

func (l *Loader) layers() []layer {
	var out []layer
	if len(l.defaults) > 0 {
		out = append(out, layer{name: OriginDefault, provider: mapProvider(l.defaults)})
	}
	if l.filePath != "" {
		out = append(out, layer{name: OriginFile, provider: file.Provider(l.filePath), parser: yaml.Parser()})
	}
	out = append(out, layer{name: OriginEnv, provider: env.Provider(l.envPrefix, ".", l.envKey)})
	return out
}

// Load reads every layer into a fresh key space and unmarshals the result
// into target. Calling it again reloads; Changed then reports the keys
// whose value differs from the previous load.
func (l *Loader) Load(target any) error {
	k := koanf.New(".")
	origin := make(map[string]string)
	for _, ly := range l.layers() {
		one := koanf.New(".")
		if err := one.Load(ly.provider, ly.parser); err != nil {
			if ly.name == OriginFile {
				return fmt.Errorf("load config file %s: %w", l.filePath, err)
			}
			return fmt.Errorf("load %s: %w", ly.name, err)
		}
		for _, key := range one.Keys() {
			origin[key] = ly.name
		}
		if err := k.Merge(one); err != nil {
			return fmt.Errorf("merge %s: %w", ly.name, err)
		}
	}

	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if l.k != nil {
		l.changed = diffKeys(l.k.All(), k.All())
	}
	l.k = k
	l.origin = origin
	return nil
}

// envKey maps RXCKPT_SERVER__HTTP__ADDR to server.http.addr.
func (l *Loader) envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	return strings.ReplaceAll(s, EnvSectionSeparator, ".")
}

// Origin names the layer that set key in the last Load, or "" when no
// layer did.
func (l *Loader) Origin(key string) string {
	return l.origin[key]
}

// Changed returns the keys, sorted, whose value differs between the last
// two loads.
func (l *Loader) Changed() []string {
	return l.changed
}

// Value returns the merged value of key from the last Load.
func (l *Loader) Value(key string) any {
	if l.k == nil {
		return nil
	}
	return l.k.Get(key)
}

// Keys returns every key of the last Load, flattened and sorted.
func (l *Loader) Keys() []string {
	if l.k == nil {
		return nil
	}
	keys := l.k.Keys()
	sort.Strings(keys)
	return keys
}

func diffKeys(prev, next map[string]any) []string {
	var out []string
	for key, v := range next {
		if old, ok := prev[key]; !ok || !reflect.DeepEqual(old, v) {
			out = append(out, key)
		}
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
