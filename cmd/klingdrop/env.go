package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/Klingon-tech/klingdrop/config"
	"github.com/Klingon-tech/klingdrop/internal/broadcast"
	"github.com/Klingon-tech/klingdrop/internal/claim"
	"github.com/Klingon-tech/klingdrop/internal/derive"
	"github.com/Klingon-tech/klingdrop/internal/drop"
	"github.com/Klingon-tech/klingdrop/internal/esplora"
	"github.com/Klingon-tech/klingdrop/internal/fee"
	"github.com/Klingon-tech/klingdrop/internal/journal"
	"github.com/Klingon-tech/klingdrop/internal/ledger"
	klog "github.com/Klingon-tech/klingdrop/internal/log"
	"github.com/Klingon-tech/klingdrop/internal/metrics"
	"github.com/Klingon-tech/klingdrop/internal/near"
	"github.com/Klingon-tech/klingdrop/internal/storage"
	"github.com/Klingon-tech/klingdrop/internal/tatum"
	"github.com/Klingon-tech/klingdrop/internal/utxo"
)

const envKey = "env"

// env holds what commands share. Collaborators are built on first use so
// a command only touches the services it needs.
type env struct {
	cfg     *config.Config
	params  *chaincfg.Params
	keyring *ledger.Keyring

	explorer *esplora.Client
	executor *ledger.Executor
	db       storage.DB
	metrics  *http.Server
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c)
	if err != nil {
		return err
	}
	logFile := cfg.Log.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(cfg.LogsDir(), logFile)
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	params, err := derive.ChainParams(cfg.Chain.Name, string(cfg.Network))
	if err != nil {
		return err
	}

	e := &env{cfg: cfg, params: params, keyring: ledger.NewKeyring()}
	if cfg.Metrics.Enabled {
		e.serveMetrics()
	}
	c.App.Metadata[envKey] = e
	return nil
}

func teardown(c *cli.Context) error {
	e, ok := c.App.Metadata[envKey].(*env)
	if !ok {
		return nil
	}
	if e.metrics != nil {
		_ = e.metrics.Close()
	}
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

func getEnv(c *cli.Context) *env {
	return c.App.Metadata[envKey].(*env)
}

func (e *env) serveMetrics() {
	metrics.Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	e.metrics = &http.Server{
		Addr:              e.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := e.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Warn().Err(err).Str("addr", e.cfg.Metrics.Addr).Msg("Metrics server stopped")
		}
	}()
	klog.Info().Str("addr", e.cfg.Metrics.Addr).Msg("Serving metrics")
}

func (e *env) esplora() *esplora.Client {
	if e.explorer == nil {
		e.explorer = esplora.NewWithClient(e.cfg.Esplora.URL, &http.Client{Timeout: e.cfg.Esplora.Timeout})
	}
	return e.explorer
}

func (e *env) ledger() *ledger.Executor {
	if e.executor == nil {
		rpc := near.NewWithTimeout(e.cfg.Ledger.RPCURL, e.cfg.Ledger.Timeout)
		e.executor = ledger.NewExecutor(near.NewLedger(rpc), e.keyring, e.cfg.Ledger.NetworkID)
	}
	return e.executor
}

func (e *env) contract() (*drop.Contract, error) {
	if e.cfg.Ledger.ContractID == "" {
		return nil, errors.New("no contract configured (set ledger.contract or --contract)")
	}
	return drop.New(e.ledger(), e.cfg.Ledger.ContractID, e.cfg.Ledger.OwnerID), nil
}

// ownerContract returns the contract client with the owner's key installed.
func (e *env) ownerContract(c *cli.Context) (*drop.Contract, error) {
	contract, err := e.contract()
	if err != nil {
		return nil, err
	}
	if e.cfg.Ledger.OwnerID == "" {
		return nil, errors.New("no owner configured (set ledger.owner or --owner)")
	}
	if err := e.installKey(c, e.cfg.Ledger.OwnerID); err != nil {
		return nil, err
	}
	return contract, nil
}

func (e *env) relay() broadcast.Relay {
	if e.cfg.Claim.Relay == config.RelayTatum {
		return tatum.New(e.cfg.Tatum.URL, e.cfg.Tatum.APIKey, nil)
	}
	return e.esplora()
}

func (e *env) journal() (*journal.Journal, error) {
	if e.db == nil {
		db, err := storage.NewBadger(e.cfg.JournalDir())
		if err != nil {
			return nil, err
		}
		e.db = db
	}
	return journal.New(storage.NewPrefixDB(e.db, []byte(e.cfg.Chain.Name+"/"))), nil
}

func (e *env) deriver() *derive.Client {
	return derive.New(e.cfg.Derive.URL, nil)
}

func (e *env) claimer() (*claim.Claimer, error) {
	contract, err := e.contract()
	if err != nil {
		return nil, err
	}

	opts := []claim.Option{claim.WithConcurrency(e.cfg.Claim.Concurrency)}
	if e.cfg.Claim.Broadcast {
		opts = append(opts, claim.WithBroadcaster(broadcast.New(e.relay())))
	}
	if e.cfg.Journal.Enabled {
		j, err := e.journal()
		if err != nil {
			return nil, err
		}
		opts = append(opts, claim.WithJournal(j))
	}

	calc := fee.NewCalculator(e.esplora()).WithTarget(e.cfg.Esplora.FeeTarget)
	return claim.New(utxo.NewSelector(e.esplora()), calc, contract, e.params, opts...), nil
}

// installKey reads the secret key for accountID and installs it in the
// keyring. The key comes from --secret-key, KLINGDROP_SECRET_KEY, or a
// prompt, and is never written anywhere.
func (e *env) installKey(c *cli.Context, accountID string) error {
	if accountID == "" {
		return errors.New("no signing account configured")
	}
	secret := c.String(flagSecretKey)
	if secret == "" {
		if !term.IsTerminal(int(syscall.Stdin)) {
			return fmt.Errorf("secret key for %s required (--%s or %s)", accountID, flagSecretKey, secretKeyEnv)
		}
		fmt.Fprintf(os.Stderr, "Secret key for %s: ", accountID)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read secret key: %w", err)
		}
		secret = string(raw)
	}

	cred, err := ledger.ParseCredential(e.cfg.Ledger.NetworkID, accountID, secret)
	if err != nil {
		return err
	}
	return e.keyring.Set(cred)
}
