package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/breeze-rmm/rdpd/internal/audit"
	"github.com/breeze-rmm/rdpd/internal/auth"
	"github.com/breeze-rmm/rdpd/internal/config"
	"github.com/breeze-rmm/rdpd/internal/health"
	"github.com/breeze-rmm/rdpd/internal/logging"
	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
	"github.com/breeze-rmm/rdpd/internal/rdp/netdetect"
	"github.com/breeze-rmm/rdpd/internal/rdp/session"
	"github.com/breeze-rmm/rdpd/internal/server"
	"github.com/breeze-rmm/rdpd/internal/status"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:           "breeze-rdpd",
	Short:         "Breeze RDP server",
	Long:          `breeze-rdpd accepts RDP clients, authenticates them and streams the desktop over the graphics pipeline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start accepting RDP connections",
	Long: `Start accepting RDP connections.

The protocol engine named by the "engine" setting must be linked into the
binary; a driver package registers itself with engine.Register from its
init function. check-config reports the engines this binary carries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and user list",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkConfig(cmd.OutOrStdout())
	},
}

var verifyLoginCmd = &cobra.Command{
	Use:   "verify-login [username]",
	Short: "Check credentials the way an RDP logon would",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return verifyLogin(cmd.InOrStdin(), cmd.OutOrStdout(), args[0])
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify the audit log hash chain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			path = cfg.AuditFile
		}
		return verifyAudit(cmd.OutOrStdout(), path)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "breeze-rdpd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is rdpd.yaml in the config directory)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(verifyLoginCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration. Warnings are logged;
// any fatal problem is returned.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, errors.Join(result.Fatals...)
	}
	return cfg, nil
}

func newVerifier(cfg *config.Config) (*auth.Verifier, error) {
	users, err := cfg.LoadUsers()
	if err != nil {
		return nil, err
	}
	opts := auth.Options{
		UseSystemLogin: cfg.UseSystemLogin,
		Users:          users,
		Logger:         logging.L("auth"),
	}
	if cfg.UseSystemLogin {
		opts.LoginService = auth.NewSystemLogin(cfg.SystemLoginService)
	}
	return auth.NewVerifier(opts), nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCloser, err := logging.Setup(cfg.LogFormat, cfg.LogLevel, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logCloser.Close()

	driver, err := engine.Open(cfg.Engine)
	if err != nil {
		return err
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	auditLog, err := audit.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	monitor := health.NewMonitor()
	if auditLog != nil {
		monitor.Register("audit", func() (health.Status, string) {
			if n := auditLog.DroppedCount(); n > 0 {
				return health.Degraded, fmt.Sprintf("%d audit entries dropped", n)
			}
			return health.Healthy, ""
		})
	}
	hub := status.NewHub(logging.L("status"))
	defer hub.CloseAll()

	sampler := netdetect.NewSampler(time.Duration(cfg.NetworkSampleIntervalMs)*time.Millisecond, nil)
	netLog := logging.L("netdetect")

	srv := server.New(cfg, verifier, driver, server.Options{
		Logger: logging.L("server"),
		Audit:  auditLog,
		Health: monitor,
		Events: hub,
		Subsystems: func(*session.Session) session.Subsystems {
			return session.Subsystems{Network: netdetect.NewDetector(sampler, netLog)}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reopenOnHangup(ctx, logCloser)
	go monitor.Run(ctx, 15*time.Second)

	if cfg.StatusAddr != "" {
		ln, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			return fmt.Errorf("listen status %s: %w", cfg.StatusAddr, err)
		}
		handler := status.NewHandler(srv, monitor, hub, logging.L("status"))
		go func() {
			if err := status.Serve(ctx, ln, handler); err != nil {
				log.Error("status server stopped", logging.KeyError, err)
			}
		}()
		log.Info("status endpoints listening", "addr", cfg.StatusAddr)
	}

	log.Info("starting breeze-rdpd", "version", version, "engine", cfg.Engine, "nla", cfg.NLAEnabled())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe(ctx) }()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("shutdown incomplete", logging.KeyError, serr)
	}
	if err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

// reopenOnHangup reopens the log file on SIGHUP so external rotation works.
func reopenOnHangup(ctx context.Context, c io.Closer) {
	rw, ok := c.(*logging.RotatingWriter)
	if !ok {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := rw.Reopen(); err != nil {
				log.Error("failed to reopen log file", logging.KeyError, err)
			}
		}
	}
}

func checkConfig(out io.Writer) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %v\n", w)
	}
	if !slices.Contains(engine.Drivers(), cfg.Engine) {
		fmt.Fprintf(out, "warning: engine %q is not linked into this binary (registered: %v); serve will fail\n", cfg.Engine, engine.Drivers())
	}
	for _, f := range result.Fatals {
		fmt.Fprintf(out, "fatal: %v\n", f)
	}

	users, err := cfg.LoadUsers()
	if err != nil {
		fmt.Fprintf(out, "fatal: %v\n", err)
		return errors.New("configuration is invalid")
	}
	if result.HasFatals() {
		return errors.New("configuration is invalid")
	}

	fmt.Fprintf(out, "listen:       %s\n", cfg.ListenAddr)
	fmt.Fprintf(out, "engine:       %s\n", cfg.Engine)
	fmt.Fprintf(out, "nla:          %v\n", cfg.NLAEnabled())
	fmt.Fprintf(out, "system login: %v\n", cfg.UseSystemLogin)
	fmt.Fprintf(out, "users:        %d\n", len(users))
	fmt.Fprintln(out, "configuration OK")
	return nil
}

func verifyLogin(in io.Reader, out io.Writer, username string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	password, err := readPassword(in, out)
	if err != nil {
		return err
	}
	method, ok := verifier.Check(username, password)
	if !ok {
		return errors.New("login rejected")
	}
	fmt.Fprintf(out, "login accepted (%s)\n", method)
	return nil
}

func readPassword(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func verifyAudit(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := audit.Verify(f)
	if err != nil {
		return fmt.Errorf("%s: %w (after %d valid entries)", path, err, n)
	}
	fmt.Fprintf(out, "%s: %d entries, chain intact\n", path, n)
	return nil
}
