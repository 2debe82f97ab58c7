package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"recall254/go-core/internal/app"
	"recall254/go-core/internal/backup"
	"recall254/go-core/internal/config"
	"recall254/go-core/internal/metrics"
	"recall254/go-core/internal/prompt"
	"recall254/go-core/internal/receipt"
	"recall254/go-core/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// errRejected marks a command that ran but whose answer is "no": an invalid
// signature, an inconsistent key record or an expired receipt.
var errRejected = errors.New("rejected")

type cli struct {
	configPath  string
	dataDir     string
	store       string
	metricsFile string
	backupDir   string

	prompter prompt.Prompter
	logger   *slog.Logger
	out      io.Writer
	errOut   io.Writer
	now      func() time.Time

	cfg      config.Config
	registry *prometheus.Registry
	svc      *app.Service
	closeSvc func() error
}

func execute(ctx context.Context, c *cli, args []string) error {
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	err := root.ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	return err
}

func exitCode(err error) int {
	if errors.Is(err, errRejected) {
		return 2
	}
	return 1
}

func (c *cli) service() (*app.Service, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	cfg, err := config.LoadFromPath(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}
	if c.store != "" {
		cfg.Store = c.store
	}
	if c.metricsFile != "" {
		cfg.MetricsTextfile = c.metricsFile
	}
	if c.backupDir != "" {
		cfg.BackupDir = c.backupDir
	}
	c.registry = prometheus.NewRegistry()
	svc, closeFn, err := app.New(cfg, c.prompter, c.logger, c.registry)
	if err != nil {
		return nil, err
	}
	c.cfg, c.svc, c.closeSvc = cfg, svc, closeFn
	return svc, nil
}

func (c *cli) close() error {
	if c.svc == nil {
		return nil
	}
	var errs []error
	if err := metrics.WriteTextfile(c.cfg.MetricsTextfile, c.registry); err != nil {
		errs = append(errs, err)
	}
	if err := c.closeSvc(); err != nil {
		errs = append(errs, err)
	}
	c.svc = nil
	return errors.Join(errs...)
}

func (c *cli) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// passphraseFrom reads a passphrase from the named environment variable. An
// empty name means "prompt when needed".
func passphraseFrom(envName string) (string, error) {
	if envName == "" {
		return "", nil
	}
	v, ok := os.LookupEnv(envName)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("environment variable %s is not set", envName)
	}
	return v, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "petition-signer",
		Short:         "Device-bound petition signing keys and signatures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to signer.yaml (optional)")
	root.PersistentFlags().StringVar(&c.dataDir, "data-dir", "", "directory holding the key record (env RECALL_DATA_DIR)")
	root.PersistentFlags().StringVar(&c.store, "store", "", "key store backend: file|sqlite|memory (env RECALL_STORE_BACKEND)")
	root.PersistentFlags().StringVar(&c.metricsFile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newKeygenCmd(c),
		newInfoCmd(c),
		newCheckCmd(c),
		newDoctorCmd(c),
		newUnlockCmd(c),
		newSignCmd(c),
		newVerifyCmd(c),
		newRecoverCmd(c),
		newClearCmd(c),
		newBackupCmd(c),
		newReceiptCmd(c),
		newVersionCmd(c),
	)
	return root
}

func newKeygenCmd(c *cli) *cobra.Command {
	var passEnv string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the device signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			info, err := svc.KeyInfo(cmd.Context())
			if err != nil {
				return err
			}
			if info.HasKeys && !force {
				return fmt.Errorf("a signing key already exists (version %s); use --force to replace it", info.KeyVersion)
			}
			pass, err := passphraseFrom(passEnv)
			if err != nil {
				return err
			}
			info, err = svc.GenerateKeyPair(cmd.Context(), pass)
			if err != nil {
				return err
			}
			return c.printJSON(info)
		},
	}
	cmd.Flags().StringVar(&passEnv, "passphrase-env", "", "read the passphrase from this environment variable instead of prompting")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")
	return cmd
}

func newInfoCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the key state and public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			info, err := svc.KeyInfo(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(info)
		},
	}
}

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the stored key record for damage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			ok := svc.CheckConsistency(cmd.Context())
			if err := c.printJSON(map[string]bool{"consistent": ok}); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key record is missing or damaged: %w", errRejected)
			}
			return nil
		},
	}
}

func newDoctorCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report whether this device is ready to sign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			input := app.DoctorInput{BackupDir: c.cfg.ResolveBackupDir()}
			if c.cfg.Store != config.StoreMemory {
				input.DataDir = c.cfg.DataDir
			}
			report, err := svc.Doctor(cmd.Context(), input)
			if err != nil {
				return err
			}
			if err := c.printJSON(report); err != nil {
				return err
			}
			if !report.Ready {
				return fmt.Errorf("device is not ready to sign: %w", errRejected)
			}
			return nil
		},
	}
}

func newUnlockCmd(c *cli) *cobra.Command {
	var passEnv string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Check that a passphrase opens the signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			pass, err := passphraseFrom(passEnv)
			if err != nil {
				return err
			}
			if err := svc.Unlock(cmd.Context(), pass); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&passEnv, "passphrase-env", "", "read the passphrase from this environment variable instead of prompting")
	return cmd
}

// signRequest is the --request file shape.
type signRequest struct {
	Petition models.PetitionMeta `json:"petition"`
	Signer   models.SignerFields `json:"signer"`
}

func newSignCmd(c *cli) *cobra.Command {
	var (
		passEnv string
		reqPath string
		outPath string
		req     signRequest
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a petition and issue a receipt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reqPath != "" {
				raw, err := readInput(reqPath, cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read request: %w", err)
				}
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&req); err != nil {
					return fmt.Errorf("decode request: %w", err)
				}
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			pass, err := passphraseFrom(passEnv)
			if err != nil {
				return err
			}
			outcome, err := svc.Sign(cmd.Context(), req.Petition, req.Signer, pass)
			if err != nil {
				return err
			}
			if outPath == "" {
				return c.printJSON(outcome)
			}
			raw, err := json.MarshalIndent(outcome, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, append(raw, '\n'), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintln(c.out, outcome.Receipt.Code)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&passEnv, "passphrase-env", "", "read the passphrase from this environment variable instead of prompting")
	f.StringVar(&reqPath, "request", "", "JSON file with petition and signer objects (- for stdin)")
	f.StringVar(&outPath, "out", "", "write the signed result to this file and print only the receipt code")
	f.StringVar(&req.Petition.ID, "petition-id", "", "petition identifier")
	f.StringVar(&req.Petition.Title, "petition-title", "", "petition title")
	f.StringVar(&req.Signer.Name, "name", "", "signer name")
	f.StringVar(&req.Signer.IDNumber, "id-number", "", "national ID number")
	f.StringVar(&req.Signer.Phone, "phone", "", "phone number")
	f.StringVar(&req.Signer.Constituency, "constituency", "", "constituency")
	f.StringVar(&req.Signer.Ward, "ward", "", "ward")
	f.StringVar(&req.Signer.PollingStation, "polling-station", "", "polling station")
	f.Int64Var(&req.Signer.Timestamp, "timestamp", 0, "signing time in unix milliseconds (default now)")
	return cmd
}

// decodeResult accepts either a bare SignatureResult or the sign command's
// output with result and receipt.
func decodeResult(raw []byte) (models.SignatureResult, *models.SignatureReceipt, error) {
	var outcome app.SignOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return models.SignatureResult{}, nil, fmt.Errorf("decode signature: %w", err)
	}
	if outcome.Result.Signature != "" {
		if outcome.Receipt.Code == "" {
			return outcome.Result, nil, nil
		}
		return outcome.Result, &outcome.Receipt, nil
	}
	var res models.SignatureResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return models.SignatureResult{}, nil, fmt.Errorf("decode signature: %w", err)
	}
	return res, nil, nil
}

func newVerifyCmd(c *cli) *cobra.Command {
	var backupPath string
	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Verify a signed result locally",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			raw, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read signature: %w", err)
			}
			res, _, err := decodeResult(raw)
			if err != nil {
				return err
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			v := svc.Verify(res)
			if v.IsValid && backupPath != "" {
				b, err := os.ReadFile(backupPath)
				if err != nil {
					return fmt.Errorf("read backup: %w", err)
				}
				kb, err := backup.ParseKeyBackup(b)
				if err != nil {
					return err
				}
				if !backup.MatchesResult(kb, res) {
					v = models.Verification{Reason: "signature was not made with the backed-up key"}
				}
			}
			if err := c.printJSON(v); err != nil {
				return err
			}
			if !v.IsValid {
				return fmt.Errorf("signature invalid: %s: %w", v.Reason, errRejected)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backupPath, "backup", "", "also require the signature to match this public key backup")
	return cmd
}

func newRecoverCmd(c *cli) *cobra.Command {
	var oldEnv, newEnv string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Change the passphrase protecting the signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			oldPass, err := passphraseFrom(oldEnv)
			if err != nil {
				return err
			}
			newPass, err := passphraseFrom(newEnv)
			if err != nil {
				return err
			}
			if err := svc.RecoverKeys(cmd.Context(), oldPass, newPass); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "passphrase changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&oldEnv, "old-passphrase-env", "", "environment variable holding the current passphrase")
	cmd.Flags().StringVar(&newEnv, "new-passphrase-env", "", "environment variable holding the new passphrase")
	return cmd
}

func newClearCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the signing key and device ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete key material without --yes")
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			if err := svc.ClearCryptoData(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "key material cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newBackupCmd(c *cli) *cobra.Command {
	var format string
	var save bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export the public key for safekeeping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.backupDir != "" {
				save = true
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			switch format {
			case "markdown", "md":
				doc, err := svc.BackupMarkdown(cmd.Context())
				if err != nil {
					return err
				}
				_, err = io.WriteString(c.out, doc)
				return err
			case "json", "":
				if save {
					location, err := svc.DownloadBackup(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(c.out, location)
					return nil
				}
				b, err := svc.Backup(cmd.Context())
				if err != nil {
					return err
				}
				raw, err := backup.Marshal(b)
				if err != nil {
					return err
				}
				_, err = c.out.Write(raw)
				return err
			default:
				return fmt.Errorf("unknown backup format %q (json|markdown)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json|markdown")
	cmd.Flags().BoolVar(&save, "save", false, "save the JSON backup file into the configured backup directory")
	cmd.Flags().StringVar(&c.backupDir, "out", "", "save the JSON backup file into this directory")
	return cmd
}

func newReceiptCmd(c *cli) *cobra.Command {
	var renew bool
	cmd := &cobra.Command{
		Use:   "receipt <code|file>",
		Short: "Inspect a receipt code, or check and renew the receipt in a signed result file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := args[0]
			if code, err := receipt.ParseCode(arg); err == nil {
				return c.printJSON(code)
			}
			raw, err := os.ReadFile(arg)
			if err != nil {
				return fmt.Errorf("%q is neither a receipt code nor a readable file: %w", arg, err)
			}
			_, rc, err := decodeResult(raw)
			if err != nil {
				return err
			}
			if rc == nil {
				return fmt.Errorf("%s has no receipt", arg)
			}
			now := c.clock()
			if renew {
				next, err := receipt.Renew(*rc, now)
				if err != nil {
					return err
				}
				return c.printJSON(next)
			}
			if err := c.printJSON(rc); err != nil {
				return err
			}
			if receipt.Expired(*rc, now) {
				return fmt.Errorf("receipt %s expired at %s: %w", rc.Code, rc.ExpiresAt.Format(time.RFC3339), errRejected)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&renew, "renew", false, "issue a fresh receipt for the same signature")
	return cmd
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(c.out, "petition-signer version=%s commit=%s build_date=%s\n", version, commit, buildDate)
			return nil
		},
	}
}
