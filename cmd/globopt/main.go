package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
	"github.com/tangzhangming/globopt/internal/jit"
	"github.com/tangzhangming/globopt/internal/logging"
)

const (
	Version = "0.1.0"
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	switch args[0] {
	case "demo":
		cmdDemo(args[1:])
	case "config":
		cmdConfig(args[1:])
	case "features":
		cmdFeatures()
	case "version", "-v", "--version":
		fmt.Printf("globopt %s\n", Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("globopt %s - forward global optimizer\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  globopt <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  demo [name...]  optimize the built-in sample functions")
	fmt.Println("  config          print the effective configuration")
	fmt.Println("  features        list optimization families")
	fmt.Println("  version         print version")
	fmt.Println("  help            print this help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Printf("  -config <file>  configuration file (default ./%s when present)\n", config.ConfigFileName)
	fmt.Println("  -dump           print IR before and after optimization")
	fmt.Println("  -disable <a,b>  turn off optimization families")
	fmt.Println("  -bailouts       print the encoded bailout table")
}

// loadConfig 读取配置；未指定文件时使用当前目录下的默认文件，都没有则用默认配置
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	c, err := config.Load(config.ConfigFileName)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return c, err
}

// applyDisable 处理 -disable 列表
func applyDisable(c *config.Config, list string) error {
	if list == "" {
		return nil
	}
	for _, name := range strings.Split(list, ",") {
		f, err := config.ParseFeature(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		c.Set(f, false)
	}
	return nil
}

// cmdDemo 编译示例函数并在解释器中对照执行
func cmdDemo(args []string) {
	flags := flag.NewFlagSet("demo", flag.ExitOnError)
	cfgPath := flags.String("config", "", "configuration file")
	dump := flags.Bool("dump", false, "print IR before and after optimization")
	disable := flags.String("disable", "", "comma separated optimization families to turn off")
	showBailOuts := flags.Bool("bailouts", false, "print the encoded bailout table")
	flags.Usage = func() {
		fmt.Println("Usage: globopt demo [options] [name...]")
		fmt.Println()
		fmt.Println("Samples:", strings.Join(sampleNames(), ", "))
		fmt.Println()
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := applyDisable(cfg, *disable); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.GlobOpt.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	selected, err := selectSamples(flags.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := jit.NewCompiler(cfg, jit.WithLogger(log))
	failed := false
	for _, s := range selected {
		if err := runSample(ctx, c, s, *dump, *showBailOuts); err != nil {
			log.Error("sample failed", zap.String("sample", s.name), zap.Error(err))
			failed = true
		}
	}
	fmt.Println()
	fmt.Println(c.Stats())
	if failed {
		os.Exit(1)
	}
}

func runSample(ctx context.Context, c *jit.Compiler, s sample, dump, showBailOuts bool) error {
	fn, err := s.build()
	if err != nil {
		return err
	}
	fmt.Printf("== %s: %s\n", s.name, s.desc)
	if dump {
		fmt.Println(fn)
	}
	res, err := c.Compile(ctx, fn, nil)
	if err != nil {
		return err
	}
	if dump {
		fmt.Println(res.Func)
	}
	fmt.Printf("   %s (attempts=%d dead_stores=%d)\n", res.Stats, res.Attempts, res.DeadStores)
	for _, f := range res.Disabled {
		fmt.Printf("   disabled %s: %s\n", f, c.History(s.name).Reason(f))
	}
	if showBailOuts {
		fmt.Printf("   bailouts: %s\n", res.BailOutTable)
	}

	for _, args := range s.inputs(fn) {
		want, err := (&ir.Interp{}).Run(fn, cloneArgs(args))
		if err != nil {
			return fmt.Errorf("original: %w", err)
		}
		got, err := (&ir.Interp{Fallback: fn}).Run(res.Func, cloneArgs(args))
		if err != nil {
			return fmt.Errorf("optimized: %w", err)
		}
		switch {
		case !got.Value.DeepEqual(want.Value):
			return fmt.Errorf("%v: got %s, want %s", args, got.Value, want.Value)
		case got.BailedOut:
			fmt.Printf("   %v -> %s (bailout %s, resumed unoptimized)\n", args, got.Value, got.BailOut)
		default:
			fmt.Printf("   %v -> %s (%d steps, unoptimized %d)\n", args, got.Value, got.Steps, want.Steps)
		}
	}
	return nil
}

func cloneArgs(args []ir.RVal) []ir.RVal {
	out := make([]ir.RVal, len(args))
	for n, a := range args {
		out[n] = a.Clone()
	}
	return out
}

// cmdConfig 打印生效配置
func cmdConfig(args []string) {
	flags := flag.NewFlagSet("config", flag.ExitOnError)
	cfgPath := flags.String("config", "", "configuration file")
	if err := flags.Parse(args); err != nil {
		os.Exit(1)
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	data, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
	fmt.Printf("\n# effective: %s\n", cfg.Resolve(nil))
}

// cmdFeatures 列出优化族
func cmdFeatures() {
	for _, f := range config.Features() {
		fmt.Println(f)
	}
	if !config.SimdSupported() {
		fmt.Printf("# %s is unavailable on this platform\n", config.FeatureSimdTypeSpec)
	}
}
