package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/diff"

	"patchctl.dev/applicator"
	"patchctl.dev/config"
	"patchctl.dev/gitinfo"
	"patchctl.dev/locator"
	"patchctl.dev/skribe"
	"patchctl.dev/workspace"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v: %v\n", os.Args[0], err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: patchctl <apply|status|verify|list> [flags] <patchset.toml>")
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "apply":
		return runApply(rest)
	case "status":
		return runStatusOrVerify(rest, applicator.ModeDryRun, false)
	case "verify":
		return runStatusOrVerify(rest, applicator.ModeDryRun, true)
	case "list":
		return runList(rest)
	case "-version", "--version", "version":
		printVersion()
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q (want apply, status, verify, or list)", sub)
	}
}

func printVersion() {
	bi, ok := debug.ReadBuildInfo()
	if ok {
		fmt.Printf("%s@%v\n", bi.Path, bi.Main.Version)
	}
}

// commonFlags holds the flags shared by apply/status/verify.
type commonFlags struct {
	fs               *flag.FlagSet
	workspaceRoot    string
	workspaceVersion string
	verbose          bool
	showDiff         bool
	requireClean     bool
}

func newCommonFlags(name string) *commonFlags {
	cf := &commonFlags{fs: flag.NewFlagSet(name, flag.ExitOnError)}
	cf.fs.StringVar(&cf.workspaceRoot, "workspace", os.Getenv("PATCHCTL_WORKSPACE"), "path to the workspace root (defaults to $PATCHCTL_WORKSPACE)")
	cf.fs.StringVar(&cf.workspaceVersion, "workspace-version", "", "semver of the upstream workspace, for the patch set's version_range gate")
	cf.fs.BoolVar(&cf.verbose, "verbose", false, "log human-readable text to stderr instead of JSON to a log file")
	cf.fs.BoolVar(&cf.showDiff, "diff", false, "print a unified diff for each changed file")
	cf.fs.BoolVar(&cf.requireClean, "require-clean", false, "refuse to run against a workspace with uncommitted tracked changes (git-tracked workspaces only)")
	return cf
}

// checkClean enforces -require-clean when the workspace is a git
// repository; it is a no-op (not an error) against a plain directory,
// since git is a convenience here, not a dependency of the engine.
func (cf *commonFlags) checkClean() error {
	if !cf.requireClean {
		return nil
	}
	dirty, err := gitinfo.IsDirty(cf.workspaceRoot)
	if err != nil {
		return fmt.Errorf("checking workspace git status: %w", err)
	}
	if dirty {
		return fmt.Errorf("workspace has uncommitted tracked changes; commit or stash them, or drop -require-clean")
	}
	return nil
}

func (cf *commonFlags) resolveWorkspace() (*workspace.Guard, error) {
	if cf.workspaceRoot == "" {
		return nil, fmt.Errorf("workspace root not set: pass -workspace or set PATCHCTL_WORKSPACE")
	}
	return workspace.New(cf.workspaceRoot)
}

func setupLogging(verbose bool) (cleanup func(), err error) {
	var handler slog.Handler
	var logFile *os.File
	if verbose {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		logFile, err = os.CreateTemp("", "patchctl-log-*")
		if err != nil {
			return nil, fmt.Errorf("cannot create log file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "structured logs: %s\n", logFile.Name())
		handler = skribe.AttrsWrap(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(slog.New(handler))

	cleanup = func() {
		if logFile != nil {
			logFile.Close()
		}
	}
	return cleanup, nil
}

func loadValidConfig(path string) (*config.PatchConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading patch set: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid patch set: %w", err)
	}
	return cfg, nil
}

func runApply(args []string) error {
	cf := newCommonFlags("apply")
	cf.fs.Parse(args)
	if cf.fs.NArg() != 1 {
		return fmt.Errorf("usage: patchctl apply [flags] <patchset.toml>")
	}

	cleanup, err := setupLogging(cf.verbose)
	if err != nil {
		return err
	}
	defer cleanup()

	guard, err := cf.resolveWorkspace()
	if err != nil {
		return err
	}
	if err := cf.checkClean(); err != nil {
		return err
	}
	cfg, err := loadValidConfig(cf.fs.Arg(0))
	if err != nil {
		return err
	}

	if commit, err := gitinfo.HeadCommit(cf.workspaceRoot); err == nil && commit != "" {
		slog.Info("applying patch set", "patch_set", cfg.Meta.Name, "workspace_head", commit)
	}

	results, err := applicator.Run(cfg, guard, cf.workspaceVersion, applicator.ModeApply)
	if err != nil {
		return fmt.Errorf("applying patch set: %w", err)
	}

	printResults(results, cf.showDiff)
	if countFailed(results) > 0 {
		os.Exit(1)
	}
	return nil
}

// runStatusOrVerify implements both status and verify (§6): both evaluate
// what would change without writing, and differ only in how the CLI
// interprets an Applied result for its exit code.
func runStatusOrVerify(args []string, mode applicator.Mode, isVerify bool) error {
	name := "status"
	if isVerify {
		name = "verify"
	}
	cf := newCommonFlags(name)
	cf.fs.Parse(args)
	if cf.fs.NArg() != 1 {
		return fmt.Errorf("usage: patchctl %s [flags] <patchset.toml>", name)
	}

	cleanup, err := setupLogging(cf.verbose)
	if err != nil {
		return err
	}
	defer cleanup()

	guard, err := cf.resolveWorkspace()
	if err != nil {
		return err
	}
	if err := cf.checkClean(); err != nil {
		return err
	}
	cfg, err := loadValidConfig(cf.fs.Arg(0))
	if err != nil {
		return err
	}

	results, err := applicator.Run(cfg, guard, cf.workspaceVersion, mode)
	if err != nil {
		return fmt.Errorf("evaluating patch set: %w", err)
	}

	printResults(results, cf.showDiff)

	if countFailed(results) > 0 {
		os.Exit(1)
	}
	if isVerify && countApplied(results) > 0 {
		os.Exit(1)
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	discover := fs.String("discover", "", "also print candidate function/struct/impl targets found in this Rust source file")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: patchctl list [-discover <file>] <patchset.toml>")
	}

	cfg, err := loadValidConfig(fs.Arg(0))
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s  %s\n", bold(cfg.Meta.Name), cfg.Meta.Description)
	if cfg.Meta.VersionRange != "" {
		fmt.Printf("version_range: %s\n", cfg.Meta.VersionRange)
	}
	for _, p := range cfg.Patches {
		fmt.Printf("  %-24s %-14s %-16s %s\n", p.ID, p.Query.Kind, p.Operation.Kind, p.File)
	}

	if *discover != "" {
		if err := printDiscoveryTargets(*discover, bold); err != nil {
			return fmt.Errorf("discovering targets in %s: %w", *discover, err)
		}
	}
	return nil
}

// printDiscoveryTargets runs the bulk-discovery grammar queries (§12)
// against file and prints every candidate function/struct/impl name, so a
// patch author can find a target's exact name before writing a query.
func printDiscoveryTargets(file string, bold func(a ...any) string) error {
	source, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s\n", bold("candidate targets in "+file))

	functions, err := locator.RunRawQuery(source, locator.QueryAllFunctions)
	if err != nil {
		return fmt.Errorf("querying functions: %w", err)
	}
	printDiscoveryNames("functions", functions, "name")

	structs, err := locator.RunRawQuery(source, locator.QueryAllStructs)
	if err != nil {
		return fmt.Errorf("querying structs: %w", err)
	}
	printDiscoveryNames("structs", structs, "name")

	impls, err := locator.RunRawQuery(source, locator.QueryAllImpls)
	if err != nil {
		return fmt.Errorf("querying impls: %w", err)
	}
	printDiscoveryNames("impls", impls, "type")
	return nil
}

func printDiscoveryNames(label string, matches []locator.QueryMatch, captureName string) {
	fmt.Printf("  %s:", label)
	if len(matches) == 0 {
		fmt.Print(" (none)\n")
		return
	}
	fmt.Println()
	for _, m := range matches {
		if c, ok := m.Captures[captureName]; ok {
			fmt.Printf("    %s\n", c.Text)
		}
	}
}

func printResults(results []applicator.PatchResult, showDiff bool) {
	for _, r := range results {
		switch r.Kind {
		case applicator.ResultApplied:
			fmt.Printf("%s  %-8s %s (%+d bytes)\n", color.GreenString("applied"), r.ID, r.File, r.BytesChanged)
			if showDiff {
				fmt.Print(generateUnifiedDiff(r.File, r.Before, r.After))
			}
		case applicator.ResultAlreadyApplied:
			fmt.Printf("%s  %s %s\n", color.CyanString("no-op  "), r.ID, r.File)
		case applicator.ResultSkippedVersion:
			fmt.Printf("%s  %s %s\n", color.YellowString("skipped"), r.ID, r.Reason)
		case applicator.ResultFailed:
			fmt.Printf("%s  %s %s: %s\n", color.RedString("failed "), r.ID, r.File, r.Reason)
		}
	}
}

func countFailed(results []applicator.PatchResult) int {
	n := 0
	for _, r := range results {
		if r.Kind == applicator.ResultFailed {
			n++
		}
	}
	return n
}

func countApplied(results []applicator.PatchResult) int {
	n := 0
	for _, r := range results {
		if r.Kind == applicator.ResultApplied {
			n++
		}
	}
	return n
}

// generateUnifiedDiff renders path's change for -diff output.
func generateUnifiedDiff(path, before, after string) string {
	var buf strings.Builder
	if err := diff.Text(path, path, before, after, &buf); err != nil {
		return fmt.Sprintf("(diff generation failed: %v)\n", err)
	}
	return buf.String()
}
