// Package config holds the daemon configuration file.
package config

import (
	"io"
	"net/netip"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"go4.org/netipx"

	"srv6d/affinity"
	"srv6d/flexalgo"
	"srv6d/log"
	"srv6d/lsdb"
	"srv6d/sid"
	"srv6d/spf"
	"srv6d/zserv"
)

// Defaults.
const (
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9470"
)

// Keys of the [general] values that flags and SRV6D_* environment
// variables may override.
const (
	KeySystemID       = "system_id"
	KeySocket         = "socket"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyMetricsAddr    = "metrics_addr"
	KeySnapshotDir    = "snapshot_dir"
	KeyAffinityPolicy = "affinity_policy"
)

type Config struct {
	General  General   `toml:"general"`
	Locators []Locator `toml:"locator"`
	Areas    []Area    `toml:"area"`
}

type General struct {
	SystemID    string `toml:"system_id"`
	Socket      string `toml:"socket,omitempty"`
	LogLevel    string `toml:"log_level,omitempty"`
	LogFormat   string `toml:"log_format,omitempty"`
	MetricsAddr string `toml:"metrics_addr,omitempty"`
	// SnapshotDir keeps one LSDB snapshot per area across restarts.
	SnapshotDir string `toml:"snapshot_dir,omitempty"`
	// AffinityPolicy is "strict" or "legacy".
	AffinityPolicy string `toml:"affinity_policy,omitempty"`
}

type Locator struct {
	Name         string `toml:"name"`
	Prefix       string `toml:"prefix"`
	FunctionBits uint8  `toml:"function_bits"`
	Algorithm    uint8  `toml:"algorithm,omitempty"`
}

type Area struct {
	Name        string        `toml:"name"`
	IsType      string        `toml:"is_type,omitempty"`
	AffinityMap []AffinityMap `toml:"affinity_map"`
	FlexAlgo    []FlexAlgo    `toml:"flex_algo"`
	Links       []Link        `toml:"link"`
	Locators    []string      `toml:"locators,omitempty"`
}

type AffinityMap struct {
	Name string `toml:"name"`
	Bit  int    `toml:"bit"`
}

type FlexAlgo struct {
	Algorithm  uint8    `toml:"algorithm"`
	Exclude    []string `toml:"exclude,omitempty"`
	IncludeAny []string `toml:"include_any,omitempty"`
	IncludeAll []string `toml:"include_all,omitempty"`
	Priority   *uint8   `toml:"priority,omitempty"`
	UseFAPM    bool     `toml:"use_fapm,omitempty"`
}

type Link struct {
	Name     string   `toml:"name"`
	Affinity []string `toml:"affinity"`
}

// Load reads the file at path, applies the overrides set in v (which may
// be nil), then defaults and validates the result.
func Load(path string, v *viper.Viper) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	cfg, err := Decode(f, v)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Decode reads a configuration, rejecting unknown keys, then applies the
// overrides in v, fills in defaults and validates it.
func Decode(r io.Reader, v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, errors.New(strict.String())
		}
		return nil, errors.Wrap(err, "decode")
	}
	cfg.Override(v)
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Override replaces [general] values with the ones set in v.
func (cfg *Config) Override(v *viper.Viper) {
	if v == nil {
		return
	}
	g := &cfg.General
	for key, dst := range map[string]*string{
		KeySystemID:       &g.SystemID,
		KeySocket:         &g.Socket,
		KeyLogLevel:       &g.LogLevel,
		KeyLogFormat:      &g.LogFormat,
		KeyMetricsAddr:    &g.MetricsAddr,
		KeySnapshotDir:    &g.SnapshotDir,
		KeyAffinityPolicy: &g.AffinityPolicy,
	} {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
}

// NewViper returns a store reading SRV6D_* environment variables and the
// flags of fs that match an override key.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("srv6d")
	v.AutomaticEnv()
	for _, key := range []string{
		KeySystemID, KeySocket, KeyLogLevel, KeyLogFormat,
		KeyMetricsAddr, KeySnapshotDir, KeyAffinityPolicy,
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "bind %s", key)
		}
		flag := fs.Lookup(strings.ReplaceAll(key, "_", "-"))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, errors.Wrapf(err, "bind flag %s", flag.Name)
		}
	}
	return v, nil
}

func (cfg *Config) InitDefaults() {
	g := &cfg.General
	if g.Socket == "" {
		g.Socket = zserv.DefaultSocket
	}
	if g.LogLevel == "" {
		g.LogLevel = DefaultLogLevel
	}
	if g.LogFormat == "" {
		g.LogFormat = log.FormatConsole
	}
	if g.MetricsAddr == "" {
		g.MetricsAddr = DefaultMetricsAddr
	}
	if g.AffinityPolicy == "" {
		g.AffinityPolicy = "strict"
	}
	for i := range cfg.Areas {
		a := &cfg.Areas[i]
		if a.IsType == "" {
			a.IsType = spf.IsLevel12.String()
		}
		for j := range a.FlexAlgo {
			if a.FlexAlgo[j].Priority == nil {
				p := uint8(flexalgo.DefaultPriority)
				a.FlexAlgo[j].Priority = &p
			}
		}
	}
}

// Validate reports every problem found, not only the first.
func (cfg *Config) Validate() error {
	var errs error
	add := func(err error) {
		errs = multierr.Append(errs, err)
	}
	g := cfg.General
	if _, err := lsdb.ParseSystemID(g.SystemID); err != nil {
		add(errors.Wrap(err, "general.system_id"))
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(g.LogLevel))); err != nil {
		add(errors.Wrap(err, "general.log_level"))
	}
	if g.LogFormat != log.FormatConsole && g.LogFormat != log.FormatJSON {
		add(errors.Errorf("general.log_format: unknown format %q", g.LogFormat))
	}
	policy, ok := affinity.PolicyByName(g.AffinityPolicy)
	if !ok {
		add(errors.Errorf("general.affinity_policy: unknown policy %q", g.AffinityPolicy))
		policy = affinity.NamePolicyStrict
	}

	locators := make(map[string]bool)
	for _, err := range cfg.validateLocators(locators) {
		add(err)
	}
	areas := make(map[string]bool)
	for _, a := range cfg.Areas {
		if areas[a.Name] {
			add(errors.Errorf("area %q: duplicate", a.Name))
		}
		areas[a.Name] = true
		add(a.validate(policy, locators))
	}
	return errs
}

func (cfg *Config) validateLocators(seen map[string]bool) []error {
	var errs []error
	var set netipx.IPSetBuilder
	type owned struct {
		name string
		rng  netipx.IPRange
	}
	var ranges []owned
	for _, l := range cfg.Locators {
		if seen[l.Name] {
			errs = append(errs, errors.Wrapf(sid.ErrDuplicateName, "locator %q", l.Name))
			continue
		}
		seen[l.Name] = true
		prefix, err := netip.ParsePrefix(l.Prefix)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "locator %q", l.Name))
			continue
		}
		if err := sid.ValidateLocator(l.Name, prefix, l.FunctionBits, l.Algorithm); err != nil {
			errs = append(errs, err)
			continue
		}
		prefix = prefix.Masked()
		taken, err := set.IPSet()
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "locator %q", l.Name))
			continue
		}
		rng := netipx.RangeOfPrefix(prefix)
		if taken.OverlapsPrefix(prefix) {
			for _, o := range ranges {
				if o.rng.Overlaps(rng) {
					errs = append(errs, errors.Errorf("locator %q: %s overlaps locator %q", l.Name, prefix, o.name))
				}
			}
		}
		set.AddPrefix(prefix)
		ranges = append(ranges, owned{name: l.Name, rng: rng})
	}
	return errs
}

func (a Area) validate(policy affinity.NamePolicy, locators map[string]bool) error {
	var errs error
	fail := func(err error) {
		errs = multierr.Append(errs, errors.Wrapf(err, "area %q", a.Name))
	}
	if a.Name == "" {
		fail(errors.New("missing name"))
	}
	if _, err := spf.ParseIsType(a.IsType); err != nil {
		fail(errors.Wrapf(err, "%q", a.IsType))
	}
	reg := affinity.NewRegistry(policy)
	for _, m := range a.AffinityMap {
		if _, err := reg.Add(m.Name, m.Bit); err != nil {
			fail(err)
		}
	}
	algos := make(map[uint8]bool)
	for _, fa := range a.FlexAlgo {
		if fa.Algorithm < flexalgo.MinAlgorithm {
			fail(errors.Wrapf(flexalgo.ErrReservedAlgorithm, "%d", fa.Algorithm))
		}
		if algos[fa.Algorithm] {
			fail(errors.Wrapf(flexalgo.ErrDuplicateAlgorithm, "%d", fa.Algorithm))
		}
		algos[fa.Algorithm] = true
		for _, names := range [][]string{fa.Exclude, fa.IncludeAny, fa.IncludeAll} {
			if _, err := reg.Parse(strings.Join(names, ",")); err != nil {
				fail(errors.Wrapf(err, "flex-algo %d", fa.Algorithm))
			}
		}
	}
	for _, l := range a.Links {
		if _, err := reg.Parse(strings.Join(l.Affinity, ",")); err != nil {
			fail(errors.Wrapf(err, "link %s", l.Name))
		}
	}
	for _, name := range a.Locators {
		if !locators[name] {
			fail(errors.Errorf("unknown locator %q", name))
		}
	}
	return errs
}

// Policy resolves general.affinity_policy. Call it on a validated config.
func (cfg *Config) Policy() affinity.NamePolicy {
	p, ok := affinity.PolicyByName(cfg.General.AffinityPolicy)
	if !ok {
		return affinity.NamePolicyStrict
	}
	return p
}

// SystemID parses general.system_id. Call it on a validated config.
func (cfg *Config) SystemID() lsdb.SystemID {
	id, _ := lsdb.ParseSystemID(cfg.General.SystemID)
	return id
}

// ParsedPrefix parses the locator prefix. Call it on a validated config.
func (l Locator) ParsedPrefix() netip.Prefix {
	p, _ := netip.ParsePrefix(l.Prefix)
	return p.Masked()
}

// Sample writes an annotated example configuration.
func Sample(w io.Writer) error {
	_, err := io.WriteString(w, sample)
	return err
}

const sample = `[general]
# IS-IS system id of this router.
system_id = "0000.0000.0001"
# Unix socket protocol daemons connect to.
socket = "/var/run/srv6d/zserv.sock"
# debug, info, warn or error.
log_level = "info"
# console or json.
log_format = "console"
metrics_addr = "127.0.0.1:9470"
snapshot_dir = "/var/lib/srv6d"
# strict or legacy.
affinity_policy = "strict"

[[locator]]
name = "L1"
prefix = "2001:db8::/32"
function_bits = 16

[[locator]]
name = "L128"
prefix = "fc00:0:128::/48"
function_bits = 16
algorithm = 128

[[area]]
name = "core"
is_type = "level-1-2"
locators = ["L1", "L128"]

  [[area.affinity_map]]
  name = "red"
  bit = 1

  [[area.affinity_map]]
  name = "blue"
  bit = 2

  [[area.flex_algo]]
  algorithm = 128
  exclude = ["red"]
  priority = 200

  [[area.link]]
  name = "eth0"
  affinity = ["blue"]
`
