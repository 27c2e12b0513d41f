package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/dylandreimerink/perfevent/kernelsupport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	c := &cobra.Command{}

	c.AddCommand(
		testCmd(),
	)

	return c
}

var (
	flagVerbose   bool
	flagCover     bool
	flagCoverMode string
	flagRun       string
	flagTestEnvs  []string
	flagKeepTmp   bool
	flagReport    string
)

func testCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "test",
		Short: "Build and run unit/integration tests",
		Long: `Builds the test binaries with the perftests tag, which includes tests that
open real perf events, and runs them once per test environment. An environment
is a feature version override, so every test runs with the features of older
kernels disabled as well as with the features of the running kernel.`,
		RunE: buildAndRunTests,
	}

	f := c.Flags()
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "If set, both this command will output verbosely and all called "+
		"commands will be called verbosely as well, thus outputting extra information")
	f.BoolVar(&flagCover, "cover", false, "Enable coverage analysis")
	f.StringVar(&flagCoverMode, "covermode", "set", "Set the mode for coverage analysis for the package[s]"+
		" being tested.")
	f.StringVar(&flagRun, "run", "", "Run only those tests and examples matching the regular expression.")
	f.StringArrayVar(&flagTestEnvs, "test-env", nil, "If set, tests will only be ran in the given environments")
	f.BoolVar(&flagKeepTmp, "keep-tmp", false, "If set, the temporary directories will not be deleted after the test"+
		"run so intermediate files can be inspected")
	f.StringVar(&flagReport, "report", "", "If set, a HTML report of the test matrix is written to this path")
	return c
}

// A list of packages to be included in the test suite
var packages = []string{
	"github.com/dylandreimerink/perfevent",
	"github.com/dylandreimerink/perfevent/kernelsupport",
	"github.com/dylandreimerink/perfevent/ringbuf",
	"github.com/dylandreimerink/perfevent/record",
	"github.com/dylandreimerink/perfevent/internal/config",
	"github.com/dylandreimerink/perfevent/internal/exporter",
	"github.com/dylandreimerink/perfevent/internal/cstr",
	"github.com/dylandreimerink/perfevent/internal/syscall",

	// this package contains scenarios which combine perf events with other kernel subsystems.
	"github.com/dylandreimerink/perfevent/cmd/testsuite/integration",
}

// featureVersionEnv is the environment variable the perftests read their feature version override from
const featureVersionEnv = "PERFEVENT_FEATURE_VERSION"

// nativeEnv is the environment without a feature version override
const nativeEnv = "native"

func printlnVerbose(args ...interface{}) {
	if !flagVerbose {
		return
	}

	fmt.Println(args...)
}

// testResult is the outcome of a single test in a single environment
type testResult struct {
	Status string
}

// availableEnvs returns the environments the running kernel can serve, an override newer than the running kernel
// would make the kernel reject the attrs.
func availableEnvs() ([]string, error) {
	kernel, err := kernelsupport.RunningKernel()
	if err != nil {
		return nil, err
	}

	envs := []string{nativeEnv}
	for _, fv := range kernelsupport.FeatureVersions() {
		if kernel.AtLeast(kernelsupport.KernelVersion{Major: fv.Major, Patch: fv.Patch}) {
			envs = append(envs, fv.String())
		}
	}
	return envs, nil
}

func buildAndRunTests(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	// Opening perf events for other processes and kernel scopes needs root
	err := elevate()
	if err != nil {
		return fmt.Errorf("error while elevating: %w", err)
	}

	buildFlags := []string{
		"test",               // invoke the test sub-command
		"-c",                 // Compile the binary, but don't execute it
		"-tags", "perftests", // Include tests that use the perf_event_open syscall
	}

	if flagCover {
		buildFlags = append(buildFlags, "-cover")
		if flagCoverMode != "" {
			buildFlags = append(buildFlags, "-covermode", flagCoverMode)
		}
	}

	available, err := availableEnvs()
	if err != nil {
		return fmt.Errorf("error while listing test environments: %w", err)
	}

	environments := available
	if len(flagTestEnvs) > 0 {
		for _, env := range flagTestEnvs {
			if !contains(available, env) {
				return fmt.Errorf(
					"'%s' is not a valid test environment, pick from: %s",
					env,
					strings.Join(available, ", "),
				)
			}
		}
		environments = flagTestEnvs
	}

	tmpDir, err := os.MkdirTemp(os.TempDir(), "perftestsuite-*")
	if err != nil {
		return fmt.Errorf("error while making a temporary directory: %w", err)
	}
	printlnVerbose("Using tempdir:", tmpDir)

	// cleanup the temp dir after we are done, unless the user wan't to keep it
	if !flagKeepTmp {
		defer func() {
			printlnVerbose("--- Cleaning up tmp dir ---")
			err := os.RemoveAll(tmpDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error while cleaning up tmp dir '%s': %s", tmpDir, err.Error())
			}
			printlnVerbose("RM:", tmpDir)
		}()
	}

	executables, err := buildTests(tmpDir, buildFlags)
	if err != nil {
		return err
	}

	results := make(map[string]map[string]testResult)
	profiles := make(map[string][]string)
	failed := false
	for _, env := range environments {
		envResults, envProfiles, err := testEnvironment(env, tmpDir, executables)
		if err != nil {
			return err
		}
		results[env] = envResults
		if len(envProfiles) > 0 {
			profiles[env] = envProfiles
		}

		for name, res := range envResults {
			if res.Status == "FAIL" {
				failed = true
				fmt.Printf("FAIL %s in %s\n", name, env)
			}
		}
	}

	if flagReport != "" {
		f, err := os.Create(flagReport)
		if err != nil {
			return fmt.Errorf("error while creating report: %w", err)
		}
		defer f.Close()

		err = renderHTMLReport(results, profiles, f)
		if err != nil {
			return err
		}
	}

	if failed {
		return fmt.Errorf("one or more tests failed")
	}

	fmt.Printf("PASS all tests in %d environments\n", len(environments))
	return nil
}

func buildTests(tmpDir string, buildFlags []string) ([]string, error) {
	printlnVerbose("--- Build test binaries ---")

	executables := make([]string, 0, len(packages))
	for _, pkg := range packages {
		pkgName := strings.Join([]string{path.Base(pkg), "test"}, ".")
		execPath := path.Join(tmpDir, pkgName)

		arguments := append(
			buildFlags,
			"-o", execPath, // Output test in the temporary directory
			pkg,
		)

		_, err := execEnvCmd(nil, "go", arguments...)
		if err != nil {
			return nil, fmt.Errorf("error while building tests: %w", err)
		}

		// If a package contains no tests, no executable is generated
		if _, err := os.Stat(execPath); err == nil {
			executables = append(executables, execPath)
		}
	}

	return executables, nil
}

// testEnvironment runs all test binaries under one feature version, returning the results and the paths of the
// coverage profiles that were written.
func testEnvironment(envName, tmpDir string, executables []string) (map[string]testResult, []string, error) {
	printlnVerbose("=== Running tests for", envName, "===")

	envVars := os.Environ()
	if envName != nativeEnv {
		envVars = append(envVars, featureVersionEnv+"="+envName)
	}

	results := make(map[string]testResult)
	var profiles []string
	for _, execPath := range executables {
		flags := []string{"-test.v"}
		if flagRun != "" {
			flags = append(flags, "-test.run", flagRun)
		}
		if flagCover {
			coverPath := path.Join(tmpDir, envName, path.Base(execPath)+".cover")
			if err := os.MkdirAll(path.Dir(coverPath), 0755); err != nil {
				return nil, nil, fmt.Errorf("error while making coverage dir: %w", err)
			}
			flags = append(flags, "-test.coverprofile", coverPath)
			profiles = append(profiles, coverPath)
		}

		// A failing test exits with a non zero code, the results are in the output either way
		output, err := execEnvCmd(envVars, execPath, flags...)
		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				return nil, nil, fmt.Errorf("error while running '%s': %w", execPath, err)
			}
		}

		pkg := strings.TrimSuffix(path.Base(execPath), ".test")
		for name, res := range parseTestOutput(output) {
			results[pkg+"."+name] = res
		}
	}

	return results, profiles, nil
}

var testLineRegex = regexp.MustCompile(`^\s*--- (PASS|FAIL|SKIP): (\S+)`)

// parseTestOutput extracts the result of every (sub)test from verbose test output
func parseTestOutput(output []byte) map[string]testResult {
	results := make(map[string]testResult)

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		match := testLineRegex.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}

		results[match[2]] = testResult{Status: match[1]}
	}

	return results
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func execEnvCmd(env []string, name string, args ...string) ([]byte, error) {
	printlnVerbose(strings.Join(append([]string{"EXEC:", name}, args...), " "))

	cmd := exec.Command(name, args...)
	if env != nil {
		cmd.Env = env
	}
	output, err := cmd.Output()
	if flagVerbose {
		fmt.Print(string(output))
	}
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			fmt.Fprintln(os.Stderr, string(ee.Stderr))
		}
		return output, err
	}

	return output, nil
}

// elevate checks if we are currently running as root, if not we will request the user to elevate the program
func elevate() error {
	curUser, err := user.Current()
	if err != nil {
		return fmt.Errorf("error while getting user: %w", err)
	}

	// If we are user 0(root), we don't need to elevate
	if curUser.Uid == "0" {
		return nil
	}

	fmt.Println("This testsuit requires root privileges, attempting to elevate via sudo...")

	sudo, err := exec.LookPath("sudo")
	if err != nil {
		return fmt.Errorf("error while looking up sudo: %w", err)
	}

	// Elevate to root by execve'ing sudo with the current args. This should prompt the user for their sudo password
	// and then continue executing this program(again from the start, since this process will be replaced)
	// NOTE: The `--preserve-env=PATH` will make sure that the current PATH is preserved which is important since most
	// users will not have setup root with the correct go environment variables.
	err = unix.Exec(sudo, append([]string{"sudo", "--preserve-env=PATH"}, os.Args...), os.Environ())
	if err != nil {
		return fmt.Errorf("error execve'ing into sudo: %w", err)
	}

	return nil
}
