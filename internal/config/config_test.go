// config_test.go - 配置测试

package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// TestDefault 测试默认配置
func TestDefault(t *testing.T) {
	c := Default()
	assert.NilError(t, c.Validate())
	assert.Equal(t, c.GlobOpt.MaxRecompiles, DefaultMaxRecompiles)
	assert.Equal(t, c.GlobOpt.LogLevel, "info")
	assert.Assert(t, c.Enabled(FeatureTypeSpec))
	assert.Assert(t, !c.Enabled(FeatureSimdTypeSpec))
	assert.Check(t, is.Len(c.GlobOpt.Features, int(featureCount)))
}

// TestParse 测试解析配置文件
func TestParse(t *testing.T) {
	data := []byte(`
[globopt]
verify = true
log_level = "debug"
max_recompiles = 2

[globopt.features]
memset = "disabled"
copy_prop = "Disabled"
`)
	c, err := Parse(data)
	assert.NilError(t, err)
	assert.Assert(t, c.GlobOpt.Verify)
	assert.Equal(t, c.GlobOpt.LogLevel, "debug")
	assert.Equal(t, c.GlobOpt.MaxRecompiles, 2)
	assert.Equal(t, c.GlobOpt.MaxPrepassDepth, DefaultMaxPrepassDepth)
	assert.Assert(t, !c.Enabled(FeatureMemset))
	assert.Assert(t, !c.Enabled(FeatureCopyProp))
	assert.Assert(t, c.Enabled(FeatureMemcopy))
}

// TestParseErrors 测试非法配置
func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("[globopt.features]\nno_such = \"enabled\"\n"))
	assert.ErrorContains(t, err, "unknown feature")

	_, err = Parse([]byte("[globopt.features]\nmemset = \"maybe\"\n"))
	assert.ErrorContains(t, err, "invalid value")

	_, err = Parse([]byte("[globopt]\nlog_level = \"loud\"\n"))
	assert.ErrorContains(t, err, "invalid log_level")

	_, err = Parse([]byte("[globopt"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

// TestLoad 测试从文件加载
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	c := Default()
	c.Set(FeatureTailDup, false)
	data, err := c.Marshal()
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(path, data, 0644))

	loaded, err := Load(path)
	assert.NilError(t, err)
	assert.Assert(t, !loaded.Enabled(FeatureTailDup))
	assert.Assert(t, loaded.Enabled(FeatureConstFold))

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

// TestResolveDependencies 测试依赖关系
func TestResolveDependencies(t *testing.T) {
	c := Default()
	c.Set(FeatureTypeSpec, false)
	f := c.Resolve(nil)
	assert.Assert(t, !f.Enabled(FeatureTypeSpec))
	assert.Assert(t, !f.Enabled(FeatureAggressiveIntTypeSpec))
	assert.Assert(t, !f.Enabled(FeatureBoundCheckElimination))
	assert.Assert(t, !f.Enabled(FeatureBoundCheckHoist))
	assert.Assert(t, !f.Enabled(FeatureLoopCountBoundCheckHoist))
	assert.Assert(t, !f.Enabled(FeatureMemset))
	assert.Assert(t, f.Enabled(FeatureCopyProp))
	assert.Assert(t, f.Enabled(FeatureFieldHoist))

	c = Default()
	c.Set(FeatureInvariantHoist, false)
	f = c.Resolve(nil)
	assert.Assert(t, !f.Enabled(FeatureFieldHoist))
	assert.Assert(t, !f.Enabled(FeatureArraySegmentHoist))
	assert.Assert(t, f.Enabled(FeatureBoundCheckElimination))
}

// TestResolveHistory 测试历史记录关闭优化族
func TestResolveHistory(t *testing.T) {
	h := NewHistory()
	h.Disable(FeatureBoundCheckHoist, "hoisted check failed")
	f := Default().Resolve(h)
	assert.Assert(t, !f.Enabled(FeatureBoundCheckHoist))
	assert.Assert(t, !f.Enabled(FeatureLoopCountBoundCheckHoist))
	assert.Assert(t, f.Enabled(FeatureBoundCheckElimination))
	assert.DeepEqual(t, h.Disabled(), []Feature{FeatureBoundCheckHoist})
	assert.Equal(t, h.Reason(FeatureBoundCheckHoist), "hoisted check failed")
}

// TestFeatureNames 测试优化族名称往返
func TestFeatureNames(t *testing.T) {
	for _, f := range Features() {
		got, err := ParseFeature(f.String())
		assert.NilError(t, err)
		assert.Equal(t, got, f)
	}
	_, err := ParseFeature("bogus")
	assert.ErrorContains(t, err, "bogus")
}

// TestSimdGate 测试 SIMD 特化受平台限制
func TestSimdGate(t *testing.T) {
	f := AllEnabled()
	assert.Equal(t, f.Enabled(FeatureSimdTypeSpec), SimdSupported())
}
