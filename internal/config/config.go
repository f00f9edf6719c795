// Package config 实现优化器配置：各优化族的开关、编译历史与平台探测
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sys/cpu"
)

// 常量定义
const (
	ConfigFileName = "globopt.toml" // 配置文件名

	DefaultMaxRecompiles   = 4
	DefaultMaxPrepassDepth = 8
)

// Feature 优化族
type Feature uint8

const (
	FeatureTypeSpec Feature = iota
	FeatureAggressiveIntTypeSpec
	FeatureLossyIntTypeSpec
	FeatureFloatTypeSpec
	FeatureSimdTypeSpec
	FeatureNativeArrayTypeSpec
	FeatureTypedArrayTypeSpec
	FeatureArrayCheckHoist
	FeatureArraySegmentHoist
	FeatureArrayLengthHoist
	FeatureBoundCheckElimination
	FeatureBoundCheckHoist
	FeatureLoopCountBoundCheckHoist
	FeatureMemset
	FeatureMemcopy
	FeatureCopyProp
	FeatureFieldCopyProp
	FeatureFieldHoist
	FeatureConstFold
	FeatureInvariantHoist
	FeaturePathDependentValues
	FeatureTailDup
	FeatureSwitchIntSpec
	FeatureStringSwitchSpec
	FeatureObjTypeSpec
	FeatureFieldPRE
	featureCount
)

var featureNames = [featureCount]string{
	"type_spec",
	"aggressive_int_type_spec",
	"lossy_int_type_spec",
	"float_type_spec",
	"simd_type_spec",
	"native_array_type_spec",
	"typed_array_type_spec",
	"array_check_hoist",
	"array_segment_hoist",
	"array_length_hoist",
	"bound_check_elimination",
	"bound_check_hoist",
	"loop_count_bound_check_hoist",
	"memset",
	"memcopy",
	"copy_prop",
	"field_copy_prop",
	"field_hoist",
	"const_fold",
	"invariant_hoist",
	"path_dependent_values",
	"tail_dup",
	"switch_int_spec",
	"string_switch_spec",
	"obj_type_spec",
	"field_pre",
}

// String 返回配置文件中的键名
func (f Feature) String() string {
	if f < featureCount {
		return featureNames[f]
	}
	return fmt.Sprintf("feature(%d)", f)
}

// Features 返回全部优化族
func Features() []Feature {
	out := make([]Feature, featureCount)
	for i := range out {
		out[i] = Feature(i)
	}
	return out
}

// ParseFeature 按键名解析优化族
func ParseFeature(name string) (Feature, error) {
	for i, n := range featureNames {
		if n == name {
			return Feature(i), nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", name)
}

// 选项取值
const (
	Enabled  = "enabled"
	Disabled = "disabled"
)

// Config 配置文件
type Config struct {
	GlobOpt GlobOptConfig `toml:"globopt"`
}

// GlobOptConfig 前向优化配置
type GlobOptConfig struct {
	// Verify 在每个块之后检查内部不变量
	Verify bool `toml:"verify"`

	// LogLevel 日志级别：debug/info/warn/error/off
	LogLevel string `toml:"log_level"`

	// MaxRecompiles 单个函数最多重新编译的次数
	MaxRecompiles int `toml:"max_recompiles"`

	// MaxPrepassDepth 嵌套循环预扫描的最大深度，超过时内层循环按保守事实处理
	MaxPrepassDepth int `toml:"max_prepass_depth"`

	// Features 优化族开关，键为优化族名，值为 enabled/disabled
	Features map[string]string `toml:"features"`
}

// Default 生成默认配置
func Default() *Config {
	c := &Config{GlobOpt: GlobOptConfig{
		LogLevel:        "info",
		MaxRecompiles:   DefaultMaxRecompiles,
		MaxPrepassDepth: DefaultMaxPrepassDepth,
		Features:        make(map[string]string, featureCount),
	}}
	for _, f := range Features() {
		c.GlobOpt.Features[f.String()] = Enabled
	}
	c.GlobOpt.Features[FeatureSimdTypeSpec.String()] = Disabled
	return c
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析配置内容，未给出的项取默认值
func Parse(data []byte) (*Config, error) {
	c := Default()
	var file Config
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	g := file.GlobOpt
	c.GlobOpt.Verify = g.Verify
	if g.LogLevel != "" {
		c.GlobOpt.LogLevel = g.LogLevel
	}
	if g.MaxRecompiles != 0 {
		c.GlobOpt.MaxRecompiles = g.MaxRecompiles
	}
	if g.MaxPrepassDepth != 0 {
		c.GlobOpt.MaxPrepassDepth = g.MaxPrepassDepth
	}
	for k, v := range g.Features {
		if _, err := ParseFeature(k); err != nil {
			return nil, fmt.Errorf("invalid [globopt.features]: %w", err)
		}
		v = strings.ToLower(strings.TrimSpace(v))
		if v != Enabled && v != Disabled {
			return nil, fmt.Errorf("invalid value %q for feature %s (want %s or %s)", v, k, Enabled, Disabled)
		}
		c.GlobOpt.Features[k] = v
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 检查配置
func (c *Config) Validate() error {
	g := c.GlobOpt
	switch g.LogLevel {
	case "debug", "info", "warn", "error", "off":
	default:
		return fmt.Errorf("invalid log_level %q", g.LogLevel)
	}
	if g.MaxRecompiles < 0 {
		return fmt.Errorf("max_recompiles must not be negative")
	}
	if g.MaxPrepassDepth < 1 {
		return fmt.Errorf("max_prepass_depth must be at least 1")
	}
	return nil
}

// Enabled 配置文件是否打开了某个优化族（不考虑依赖和历史）
func (c *Config) Enabled(f Feature) bool {
	return c.GlobOpt.Features[f.String()] != Disabled
}

// Set 设置优化族开关
func (c *Config) Set(f Feature, on bool) {
	if c.GlobOpt.Features == nil {
		c.GlobOpt.Features = make(map[string]string, featureCount)
	}
	v := Disabled
	if on {
		v = Enabled
	}
	c.GlobOpt.Features[f.String()] = v
}

// Marshal 序列化配置
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// ============================================================================
// 编译历史
// ============================================================================

// History 单个函数历次编译中被关闭的优化族
type History struct {
	disabled [featureCount]bool
	reasons  map[Feature]string
}

// NewHistory 创建空历史
func NewHistory() *History {
	return &History{reasons: make(map[Feature]string)}
}

// Disable 记录一次关闭
func (h *History) Disable(f Feature, reason string) {
	if f >= featureCount {
		return
	}
	h.disabled[f] = true
	if h.reasons == nil {
		h.reasons = make(map[Feature]string)
	}
	h.reasons[f] = reason
}

// IsDisabled 是否已被关闭
func (h *History) IsDisabled(f Feature) bool {
	return h != nil && f < featureCount && h.disabled[f]
}

// Reason 返回关闭原因
func (h *History) Reason(f Feature) string {
	if h == nil {
		return ""
	}
	return h.reasons[f]
}

// Disabled 返回已关闭的优化族，按编号排序
func (h *History) Disabled() []Feature {
	if h == nil {
		return nil
	}
	var out []Feature
	for f, off := range h.disabled {
		if off {
			out = append(out, Feature(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
// 生效开关
// ============================================================================

// Flags 结合配置、依赖关系与历史后的生效开关
type Flags struct {
	on [featureCount]bool
}

// Enabled 优化族是否生效
func (f *Flags) Enabled(feat Feature) bool {
	return f != nil && feat < featureCount && f.on[feat]
}

// Disable 关闭优化族（依赖它的优化族不会自动关闭，需重新 Resolve）
func (f *Flags) Disable(feat Feature) {
	if feat < featureCount {
		f.on[feat] = false
	}
}

// String 列出生效的优化族
func (f *Flags) String() string {
	var parts []string
	for i, on := range f.on {
		if on {
			parts = append(parts, Feature(i).String())
		}
	}
	return strings.Join(parts, ",")
}

// 依赖关系：key 需要 value 中的全部优化族
var requires = map[Feature][]Feature{
	FeatureAggressiveIntTypeSpec:    {FeatureTypeSpec},
	FeatureLossyIntTypeSpec:         {FeatureTypeSpec},
	FeatureFloatTypeSpec:            {FeatureTypeSpec},
	FeatureSimdTypeSpec:             {FeatureTypeSpec},
	FeatureNativeArrayTypeSpec:      {FeatureTypeSpec},
	FeatureTypedArrayTypeSpec:       {FeatureTypeSpec},
	FeatureSwitchIntSpec:            {FeatureTypeSpec},
	FeatureArrayCheckHoist:          {FeatureInvariantHoist},
	FeatureArraySegmentHoist:        {FeatureArrayCheckHoist},
	FeatureArrayLengthHoist:         {FeatureArrayCheckHoist},
	FeatureBoundCheckElimination:    {FeatureTypeSpec},
	FeatureBoundCheckHoist:          {FeatureBoundCheckElimination, FeatureInvariantHoist},
	FeatureLoopCountBoundCheckHoist: {FeatureBoundCheckHoist},
	FeatureMemset:                   {FeatureTypeSpec, FeatureInvariantHoist},
	FeatureMemcopy:                  {FeatureTypeSpec, FeatureInvariantHoist},
	FeatureFieldHoist:               {FeatureInvariantHoist},
	FeatureFieldPRE:                 {FeatureObjTypeSpec, FeatureFieldHoist},
}

// Resolve 计算生效开关。被历史关闭的优化族以及依赖它们的优化族都不生效
func (c *Config) Resolve(h *History) *Flags {
	f := &Flags{}
	for _, feat := range Features() {
		f.on[feat] = c.Enabled(feat) && !h.IsDisabled(feat)
	}
	if !SimdSupported() {
		f.on[FeatureSimdTypeSpec] = false
	}
	// 依赖链不超过四层，迭代到不动点
	for changed := true; changed; {
		changed = false
		for feat, deps := range requires {
			if !f.on[feat] {
				continue
			}
			for _, d := range deps {
				if !f.on[d] {
					f.on[feat] = false
					changed = true
					break
				}
			}
		}
	}
	return f
}

// AllEnabled 返回全部打开的开关（SIMD 仍受平台限制）
func AllEnabled() *Flags {
	c := Default()
	c.Set(FeatureSimdTypeSpec, true)
	return c.Resolve(nil)
}

// ============================================================================
// 平台探测
// ============================================================================

// SimdSupported 平台是否支持 128 位 SIMD 特化
func SimdSupported() bool {
	return cpu.X86.HasSSE41 || cpu.ARM64.HasASIMD
}
