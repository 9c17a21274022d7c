package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"srv6d/affinity"
	"srv6d/flexalgo"
	"srv6d/lsdb"
	"srv6d/sid"
)

func TestSample(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Sample(&buf))
	cfg, err := Decode(&buf, nil)
	require.NoError(t, err)

	want := &Config{
		General: General{
			SystemID:       "0000.0000.0001",
			Socket:         "/var/run/srv6d/zserv.sock",
			LogLevel:       "info",
			LogFormat:      "console",
			MetricsAddr:    "127.0.0.1:9470",
			SnapshotDir:    "/var/lib/srv6d",
			AffinityPolicy: "strict",
		},
		Locators: []Locator{
			{Name: "L1", Prefix: "2001:db8::/32", FunctionBits: 16},
			{Name: "L128", Prefix: "fc00:0:128::/48", FunctionBits: 16, Algorithm: 128},
		},
		Areas: []Area{{
			Name:        "core",
			IsType:      "level-1-2",
			Locators:    []string{"L1", "L128"},
			AffinityMap: []AffinityMap{{Name: "red", Bit: 1}, {Name: "blue", Bit: 2}},
			FlexAlgo:    []FlexAlgo{{Algorithm: 128, Exclude: []string{"red"}, Priority: priority(200)}},
			Links:       []Link{{Name: "eth0", Affinity: []string{"blue"}}},
		}},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("sample mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, lsdb.MustParseSystemID("0000.0000.0001"), cfg.SystemID())
	assert.Equal(t, "2001:db8::/32", cfg.Locators[0].ParsedPrefix().String())
}

func TestDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
[general]
system_id = "0000.0000.0002"

[[area]]
name = "a"

  [[area.flex_algo]]
  algorithm = 129
`), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMetricsAddr, cfg.General.MetricsAddr)
	assert.Equal(t, "level-1-2", cfg.Areas[0].IsType)
	require.NotNil(t, cfg.Areas[0].FlexAlgo[0].Priority)
	assert.EqualValues(t, flexalgo.DefaultPriority, *cfg.Areas[0].FlexAlgo[0].Priority)
	assert.Empty(t, cfg.General.SnapshotDir)
}

func priority(v uint8) *uint8 { return &v }

func TestZeroPriority(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
[general]
system_id = "0000.0000.0002"

[[area]]
name = "a"

  [[area.flex_algo]]
  algorithm = 129
  priority = 0
`), nil)
	require.NoError(t, err)
	assert.Equal(t, priority(0), cfg.Areas[0].FlexAlgo[0].Priority)
}

func TestUnknownKey(t *testing.T) {
	_, err := Decode(strings.NewReader(`
[general]
system_id = "0000.0000.0002"
colour = "blue"
`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		input string
		want  []string
		is    error
	}{
		"bad system id": {
			input: `[general]
system_id = "1.2.3"`,
			want: []string{"general.system_id"},
			is:   lsdb.ErrInvalidSystemID,
		},
		"bad log settings": {
			input: `[general]
system_id = "0000.0000.0001"
log_level = "loud"
log_format = "xml"
affinity_policy = "lax"`,
			want: []string{"general.log_level", "general.log_format", "general.affinity_policy"},
		},
		"overlapping locators": {
			input: `[general]
system_id = "0000.0000.0001"
[[locator]]
name = "a"
prefix = "2001:db8::/32"
function_bits = 16
[[locator]]
name = "b"
prefix = "2001:db8:5::/48"
function_bits = 16`,
			want: []string{`locator "b": 2001:db8:5::/48 overlaps locator "a"`},
		},
		"locator covering two others": {
			input: `[general]
system_id = "0000.0000.0001"
[[locator]]
name = "a"
prefix = "2001:db8:1::/48"
function_bits = 16
[[locator]]
name = "b"
prefix = "2001:db8::/32"
function_bits = 16
[[locator]]
name = "c"
prefix = "2001:db8:2::/48"
function_bits = 16
[[locator]]
name = "d"
prefix = "2001:db9::/32"
function_bits = 16`,
			want: []string{
				`locator "b": 2001:db8::/32 overlaps locator "a"`,
				`locator "c": 2001:db8:2::/48 overlaps locator "b"`,
			},
		},
		"duplicate locator": {
			input: `[general]
system_id = "0000.0000.0001"
[[locator]]
name = "a"
prefix = "2001:db8::/32"
function_bits = 16
[[locator]]
name = "a"
prefix = "2001:db9::/32"
function_bits = 16`,
			want: []string{`locator "a"`},
			is:   sid.ErrDuplicateName,
		},
		"bad locator": {
			input: `[general]
system_id = "0000.0000.0001"
[[locator]]
name = "a"
prefix = "10.0.0.0/8"
function_bits = 16`,
			want: []string{"not IPv6"},
			is:   sid.ErrInvalidLocator,
		},
		"area problems": {
			input: `[general]
system_id = "0000.0000.0001"
[[area]]
name = "a"
is_type = "level-3"
locators = ["nope"]
  [[area.affinity_map]]
  name = "red"
  bit = 400
  [[area.flex_algo]]
  algorithm = 12
  [[area.flex_algo]]
  algorithm = 130
  include_all = ["green"]
  [[area.link]]
  name = "eth0"
  affinity = ["blue"]`,
			want: []string{
				`area "a": "level-3"`,
				`unknown locator "nope"`,
				"flex-algo 130",
				"link eth0",
			},
			is: affinity.ErrInvalidPosition,
		},
		"duplicate area and algorithm": {
			input: `[general]
system_id = "0000.0000.0001"
[[area]]
name = "a"
  [[area.flex_algo]]
  algorithm = 130
  [[area.flex_algo]]
  algorithm = 130
[[area]]
name = "a"`,
			want: []string{`area "a": duplicate`},
			is:   flexalgo.ErrDuplicateAlgorithm,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.input), nil)
			require.Error(t, err)
			for _, w := range tc.want {
				assert.Contains(t, err.Error(), w)
			}
			if tc.is != nil {
				assert.True(t, errors.Is(err, tc.is), "%v", err)
			}
			assert.GreaterOrEqual(t, len(multierr.Errors(err)), len(tc.want))
		})
	}
}

func TestLegacyPolicy(t *testing.T) {
	input := `[general]
system_id = "0000.0000.0001"
affinity_policy = "%s"
[[area]]
name = "a"
  [[area.affinity_map]]
  name = "[x]"
  bit = 1`
	_, err := Decode(strings.NewReader(strings.Replace(input, "%s", "strict", 1)), nil)
	assert.True(t, errors.Is(err, affinity.ErrInvalidName))

	cfg, err := Decode(strings.NewReader(strings.Replace(input, "%s", "legacy", 1)), nil)
	require.NoError(t, err)
	assert.True(t, cfg.Policy().Valid("[x]"))
}

func TestOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srv6d.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[general]
system_id = "0000.0000.0001"
log_level = "warn"
`), 0o600))

	fs := pflag.NewFlagSet("srv6d", pflag.ContinueOnError)
	fs.String("log-level", "", "")
	fs.String("socket", "", "")
	require.NoError(t, fs.Parse([]string{"--log-level", "debug"}))
	t.Setenv("SRV6D_SYSTEM_ID", "0000.0000.00aa")

	v, err := NewViper(fs)
	require.NoError(t, err)
	cfg, err := Load(path, v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, "0000.0000.00aa", cfg.General.SystemID)
	// unchanged flags do not override
	assert.Equal(t, "/var/run/srv6d/zserv.sock", cfg.General.Socket)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"), nil)
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}
