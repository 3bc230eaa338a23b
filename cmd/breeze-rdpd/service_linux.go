//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	linuxBinaryPath  = "/usr/local/bin/breeze-rdpd"
	linuxUnitDst     = "/etc/systemd/system/breeze-rdpd.service"
	linuxConfigDir   = "/etc/breeze"
	linuxDataDir     = "/var/lib/breeze/rdpd"
	linuxServiceName = "breeze-rdpd"
)

const linuxUnit = `[Unit]
Description=Breeze RDP server
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=/usr/local/bin/breeze-rdpd serve
WorkingDirectory=/etc/breeze
Restart=on-failure
RestartSec=5
StartLimitIntervalSec=60
StartLimitBurst=5
ExecReload=/bin/kill -HUP $MAINPID

ProtectSystem=strict
ReadWritePaths=/etc/breeze /var/lib/breeze/rdpd
PrivateTmp=true

StandardOutput=journal
StandardError=journal
SyslogIdentifier=breeze-rdpd

LimitNOFILE=8192

[Install]
WantedBy=multi-user.target
`

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the breeze-rdpd systemd service",
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceInstallCmd, serviceUninstallCmd, serviceStatusCmd, serviceUnitCmd)
}

func requireRoot(action string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("must run as root (sudo breeze-rdpd service %s)", action)
	}
	return nil
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the systemd unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot("install"); err != nil {
			return err
		}
		for _, dir := range []string{linuxConfigDir, linuxDataDir} {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}

		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("determine executable path: %w", err)
		}
		if exePath, err = filepath.EvalSymlinks(exePath); err != nil {
			return fmt.Errorf("resolve executable path: %w", err)
		}
		if exePath != linuxBinaryPath {
			data, err := os.ReadFile(exePath)
			if err != nil {
				return fmt.Errorf("read binary: %w", err)
			}
			if err := os.WriteFile(linuxBinaryPath, data, 0o755); err != nil {
				return fmt.Errorf("copy binary to %s: %w", linuxBinaryPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Binary installed to %s\n", linuxBinaryPath)
		}

		if err := os.WriteFile(linuxUnitDst, []byte(linuxUnit), 0o644); err != nil {
			return fmt.Errorf("write unit file: %w", err)
		}
		if err := systemctl("daemon-reload"); err != nil {
			return err
		}
		if err := systemctl("enable", linuxServiceName); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Systemd unit installed to %s\n\n", linuxUnitDst)
		fmt.Fprintln(out, "Next steps:")
		fmt.Fprintf(out, "  1. Configure: %s/rdpd.yaml (tls_certificate, tls_certificate_key, users)\n", linuxConfigDir)
		fmt.Fprintln(out, "  2. Check:     breeze-rdpd check-config")
		fmt.Fprintf(out, "  3. Start:     systemctl start %s\n", linuxServiceName)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the systemd unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot("uninstall"); err != nil {
			return err
		}
		systemctl("stop", linuxServiceName)
		systemctl("disable", linuxServiceName)
		os.Remove(linuxUnitDst)
		systemctl("daemon-reload")
		os.Remove(linuxBinaryPath)

		fmt.Fprintln(cmd.OutOrStdout(), "breeze-rdpd service uninstalled.")
		fmt.Fprintf(cmd.OutOrStdout(), "Config at %s was preserved.\n", linuxConfigDir)
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(linuxUnitDst); os.IsNotExist(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "Service: not installed")
			return nil
		}
		// systemctl status exits non-zero for a stopped unit.
		out, _ := exec.Command("systemctl", "status", linuxServiceName, "--no-pager").CombinedOutput()
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
		return nil
	},
}

var serviceUnitCmd = &cobra.Command{
	Use:   "unit",
	Short: "Print the systemd unit file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), linuxUnit)
	},
}
