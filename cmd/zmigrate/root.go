package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesprial/zone-migrate/internal/cloudapi"
	"github.com/jamesprial/zone-migrate/internal/config"
	"github.com/jamesprial/zone-migrate/internal/dataset"
	"github.com/jamesprial/zone-migrate/internal/migrate"
	"github.com/jamesprial/zone-migrate/internal/record"
	"github.com/jamesprial/zone-migrate/internal/remote"
	"github.com/jamesprial/zone-migrate/internal/safety"
	"github.com/jamesprial/zone-migrate/internal/vmadm"
)

const defaultConfigPath = "/etc/zone-migrate/config.yaml"

var (
	flagConfig   string
	flagSnapshot string
	flagTarget   string
)

var rootCmd = &cobra.Command{
	Use:           "zmigrate",
	Short:         "migrate VM instances between compute nodes",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list VMs with an active migration record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		vms, err := app.orchestrator.List()
		if err != nil {
			return err
		}
		for _, vm := range vms {
			fmt.Println(vm)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate --cn <node> <vm-uuid>",
	Short: "migrate a VM to another compute node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagTarget == "" {
			return fmt.Errorf("migrate: --cn <node> is required")
		}
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		return app.orchestrator.Migrate(cmd.Context(), args[0], flagTarget, app.snapshotName())
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize <vm-uuid>",
	Short: "complete a pending migration, deleting the source VM (irreversible)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		return app.orchestrator.Finalize(cmd.Context(), args[0])
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <vm-uuid>",
	Short: "reverse a pending migration, deleting the target copy and restarting the source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		return app.orchestrator.Rollback(cmd.Context(), args[0])
	},
}

// Execute runs the command tree. A failure that carries a remote exit status
// propagates that status verbatim as the process exit code; every other
// failure exits 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("error: %v", err)

		var exitErr *remote.ExitError
		if errors.As(err, &exitErr) && exitErr.Result.ExitStatus != 0 {
			if stderr := exitErr.Result.Stderr; stderr != "" {
				fmt.Fprint(os.Stderr, stderr)
			}
			os.Exit(exitErr.Result.ExitStatus)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&flagSnapshot, "snapshot-name", "", "snapshot label (default from config, normally \"migration\")")
	migrateCmd.Flags().StringVarP(&flagTarget, "cn", "n", "", "target compute node hostname or uuid")

	rootCmd.AddCommand(listCmd, migrateCmd, finalizeCmd, rollbackCmd, serveCmd)
}

// app bundles the wired components of one invocation.
type app struct {
	cfg          *config.Config
	orchestrator *migrate.Orchestrator
	confirm      *safety.ConfirmationTracker
	audit        *safety.AuditLogger
	auditFile    *os.File
}

// snapshotName resolves the effective snapshot label: flag, then config.
func (a *app) snapshotName() string {
	if flagSnapshot != "" {
		return flagSnapshot
	}
	return a.cfg.SnapshotName
}

func (a *app) close() {
	if a.auditFile != nil {
		_ = a.auditFile.Close()
	}
}

// loadAppConfig reads the config file named by --config, ZMIGRATE_CONFIG_PATH,
// or the default path. A missing file at the default path falls back to
// defaults so list still works on a fresh node.
func loadAppConfig() (*config.Config, error) {
	path := flagConfig
	explicit := path != ""
	if path == "" {
		if env := os.Getenv("ZMIGRATE_CONFIG_PATH"); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		if !explicit && os.IsNotExist(errors.Unwrap(err)) {
			cfg = config.DefaultConfig()
		} else {
			return nil, err
		}
	}
	config.ApplyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildApp wires the orchestrator from configuration: runner per deployment
// mode, directory client, record store, lifecycle backend, dataset engine,
// safety filter, and audit log.
func buildApp() (*app, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, err
	}

	sshRunner, err := remote.NewSSHRunner(cfg.SSH)
	if err != nil {
		return nil, err
	}

	var runner remote.Runner = sshRunner
	if cfg.Mode == config.ModeDirect {
		// On the source node itself: do not loop local commands back
		// through SSH.
		runner = remote.NewRouter(remote.NewLocalRunner(), sshRunner, remote.LocalAddresses()...)
	}

	apiClient, err := cloudapi.NewHTTPClient(cfg.CloudAPI)
	if err != nil {
		return nil, err
	}
	resolver := cloudapi.NewResolver(apiClient, runner)

	records, err := record.NewStore(cfg.Paths.RecordDir)
	if err != nil {
		return nil, err
	}

	var vms vmadm.Manager
	switch cfg.Backend {
	case config.BackendLibvirt:
		vms, err = vmadm.NewLibvirtManager(cfg.Paths.LibvirtSocket)
		if err != nil {
			return nil, err
		}
	default:
		vms = vmadm.NewShellManager(runner)
	}

	engine := dataset.NewEngine(runner, cfg.SSH)
	filter := safety.NewFilter(cfg.Safety.Allowlist, cfg.Safety.Denylist)

	a := &app{cfg: cfg}
	if cfg.Audit.Enabled {
		f, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			log.Printf("warning: could not open audit log %q: %v — audit logging disabled", cfg.Audit.LogPath, err)
		} else {
			a.audit = safety.NewAuditLogger(f)
			a.auditFile = f
		}
	}

	a.confirm = safety.NewConfirmationTracker(migrate.DestructiveTools)
	a.orchestrator = migrate.New(resolver, vms, engine, records, filter, a.audit, log.Default())
	return a, nil
}
