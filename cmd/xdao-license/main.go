package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/utils/clock"

	"xdao.co/license/archive/registry"
	"xdao.co/license/config"
	"xdao.co/license/keys"
	"xdao.co/license/licerr"

	// Archive backends available to --archive-backend and config files.
	_ "xdao.co/license/archive/grpcarchive"
	_ "xdao.co/license/archive/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	return newApp(out, errOut).run(args)
}

// app carries the state shared by every command of one invocation.
type app struct {
	fs     afero.Fs
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	log    *log.Logger
	clock  clock.PassiveClock

	// Persistent flags.
	configPath     string
	keyFile        string
	logLevel       string
	archiveBackend string
	archiveFlags   *pflag.FlagSet

	cfg *config.Config
}

func newApp(out, errOut io.Writer) *app {
	logger := log.New()
	logger.SetOutput(errOut)
	return &app{
		fs:     afero.NewOsFs(),
		in:     os.Stdin,
		out:    out,
		errOut: errOut,
		log:    logger,
		clock:  clock.RealClock{},
	}
}

// usageError marks errors caused by how the tool was invoked (exit status 2).
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, a ...interface{}) error {
	return usageError{fmt.Errorf(format, a...)}
}

func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func (a *app) run(args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	printError(a.errOut, err)

	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

func printError(w io.Writer, err error) {
	if kind := licerr.KindOf(err); kind != "" {
		fmt.Fprintf(w, "error: %s [%s]: %v\n", kind, licerr.RuleID(err), err)
		return
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xdao-license",
		Short: "Issue and verify machine-bound licenses",

		// Errors are printed by run, which also picks the exit status.
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return usagef("missing command")
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file (settings also come from XDAO_LICENSE_* variables)")
	pf.StringVar(&a.keyFile, "key-file", "", "Private key file (default "+keys.DefaultKeyPath+")")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&a.archiveBackend, "archive-backend", "", "Archive backend ("+strings.Join(registry.Names(registry.UsageCLI), ", ")+"); overrides the config archive section")
	registry.RegisterFlags(pf, registry.UsageCLI)
	a.archiveFlags = pf

	root.AddCommand(
		a.keyCmd(),
		a.issueCmd(),
		a.batchCmd(),
		a.verifyCmd(),
		a.anchorCmd(),
		a.archiveCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.fs, a.configPath)
	if err != nil {
		return usageError{err}
	}
	if a.keyFile != "" {
		cfg.KeyFile = a.keyFile
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.log.SetOutput(a.errOut)
	if err := cfg.ConfigureLogging(a.log); err != nil {
		return usageError{err}
	}
	a.cfg = cfg
	return nil
}
