package cli

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kaori/plughost/internal/config"
	"github.com/kaori/plughost/internal/daemon"
	"github.com/kaori/plughost/internal/logger"
	"github.com/kaori/plughost/pkg/manifest"
	"github.com/kaori/plughost/pkg/plugin"
	"github.com/kaori/plughost/pkg/security"
)

var (
	signSecret    string
	installSource string
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and manage plugin packages",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plugin packages found in the configured directories",
	RunE:  runPluginsList,
}

var pluginsInspectCmd = &cobra.Command{
	Use:   "inspect <dir>",
	Short: "Show the validated manifest of a plugin package",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsInspect,
}

var pluginsInstallCmd = &cobra.Command{
	Use:   "install <dir>",
	Short: "Install a plugin package into the host",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsInstall,
}

var pluginsUninstallCmd = &cobra.Command{
	Use:   "uninstall <plugin-id>",
	Short: "Uninstall a plugin and remove its package",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsUninstall,
}

var pluginsEnableCmd = &cobra.Command{
	Use:   "enable <plugin-id>",
	Short: "Allow a plugin to be enabled by the host",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsEnable,
}

var pluginsDisableCmd = &cobra.Command{
	Use:   "disable <plugin-id>",
	Short: "Keep a plugin disabled across host restarts",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsDisable,
}

var pluginsSignCmd = &cobra.Command{
	Use:   "sign <dir>",
	Short: "Sign a plugin package with the host signing secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsSign,
}

var pluginsVerifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Verify a plugin package signature and checksums",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsVerify,
}

func init() {
	pluginsSignCmd.Flags().StringVar(&signSecret, "secret", "", "signing secret (defaults to the configured one)")
	pluginsVerifyCmd.Flags().StringVar(&signSecret, "secret", "", "signing secret (defaults to the configured one)")

	pluginsInstallCmd.Flags().StringVar(&installSource, "source", string(plugin.SourceLocal), "install source (local, git, marketplace)")

	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsInspectCmd)
	pluginsCmd.AddCommand(pluginsInstallCmd)
	pluginsCmd.AddCommand(pluginsUninstallCmd)
	pluginsCmd.AddCommand(pluginsEnableCmd)
	pluginsCmd.AddCommand(pluginsDisableCmd)
	pluginsCmd.AddCommand(pluginsSignCmd)
	pluginsCmd.AddCommand(pluginsVerifyCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	discovery := plugin.NewDiscovery(zerolog.Nop(), manifest.NewLoader(zerolog.Nop()))
	found := discovery.Scan(cfg.PluginDirs)
	if len(found) == 0 {
		fmt.Println("No plugins found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tTYPE\tPATH")
	for _, d := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Manifest.ID, d.Manifest.Version, d.Manifest.Type, d.Path)
	}
	return w.Flush()
}

func runPluginsInspect(cmd *cobra.Command, args []string) error {
	m, err := manifest.NewLoader(zerolog.Nop()).LoadDir(args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// offlineHost assembles a daemon without starting it, for one-shot package
// operations against the local surface.
func offlineHost(cfg *config.Config) (*daemon.Daemon, func(), error) {
	log, err := logger.New(logger.Config{Level: "warn", Console: true, Pretty: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	d, err := daemon.New(cfg, log, daemon.Options{})
	if err != nil {
		log.Close()
		return nil, nil, fmt.Errorf("failed to assemble host: %w", err)
	}
	return d, func() {
		d.Close()
		log.Close()
	}, nil
}

func runPluginsInstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, done, err := offlineHost(cfg)
	if err != nil {
		return err
	}
	defer done()

	p, err := d.Manager().Install(cmd.Context(), args[0], plugin.InstallOptions{
		Source: plugin.Source(installSource),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Installed %s %s (%s)\n", p.ID(), p.Manifest.Version, p.Path)
	return nil
}

func runPluginsUninstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, done, err := offlineHost(cfg)
	if err != nil {
		return err
	}
	defer done()

	// Register installed packages so the ID resolves.
	d.Manager().Discover(cmd.Context(), cfg.PluginDirs)
	if err := d.Manager().Uninstall(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Uninstalled %s\n", args[0])
	return nil
}

func runPluginsEnable(cmd *cobra.Command, args []string) error {
	return setPluginDisabled(args[0], false)
}

func runPluginsDisable(cmd *cobra.Command, args []string) error {
	return setPluginDisabled(args[0], true)
}

// setPluginDisabled persists the disabled pin; a running host picks it up
// on its next restart.
func setPluginDisabled(id string, disabled bool) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.SetPluginDisabled(id, disabled) {
		if disabled {
			fmt.Printf("%s is already disabled\n", id)
		} else {
			fmt.Printf("%s is not disabled\n", id)
		}
		return nil
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if disabled {
		fmt.Printf("Disabled %s\n", id)
	} else {
		fmt.Printf("Enabled %s\n", id)
	}
	return nil
}

func runPluginsSign(cmd *cobra.Command, args []string) error {
	dir := args[0]
	secret, err := resolveSecret()
	if err != nil {
		return err
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, manifest.FileName))
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	checksums, err := packageChecksums(dir)
	if err != nil {
		return err
	}

	verifier := security.NewSignatureVerifier(zerolog.Nop(), security.TrustPolicy{}, secret)
	sig := verifier.Sign(manifestBytes, checksums)
	sig.SignedAt = time.Now().UTC()

	data, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return err
	}
	sigPath := filepath.Join(dir, manifest.SignatureFileName)
	if err := os.WriteFile(sigPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write signature file: %w", err)
	}

	fmt.Printf("Signed %d file(s): %s\n", len(checksums), sigPath)
	return nil
}

func runPluginsVerify(cmd *cobra.Command, args []string) error {
	dir := args[0]
	secret, err := resolveSecret()
	if err != nil {
		return err
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, manifest.FileName))
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	verifier := security.NewSignatureVerifier(zerolog.Nop(), security.TrustPolicy{RequireSignatures: true}, secret)
	result, err := verifier.VerifyPackage(dir, manifestBytes)
	if err != nil {
		for _, failure := range result.Failures {
			fmt.Printf("  %s\n", failure)
		}
		return err
	}

	fmt.Println("Signature OK")
	return nil
}

// packageChecksums hashes every file in the package except the signature
// file itself.
func packageChecksums(dir string) ([]manifest.FileChecksum, error) {
	var checksums []manifest.FileChecksum

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == manifest.SignatureFileName {
			return nil
		}
		sum, err := security.HashFile(path)
		if err != nil {
			return err
		}
		checksums = append(checksums, manifest.FileChecksum{
			Path:   filepath.ToSlash(rel),
			SHA256: sum,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to hash package files: %w", err)
	}
	return checksums, nil
}

func resolveSecret() ([]byte, error) {
	if signSecret != "" {
		return []byte(signSecret), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Security.SigningSecret == "" {
		return nil, fmt.Errorf("no signing secret configured; pass --secret or set security.signing_secret")
	}
	return []byte(cfg.Security.SigningSecret), nil
}
