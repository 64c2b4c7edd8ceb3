package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/Klingon-tech/klingdrop/internal/broadcast"
	"github.com/Klingon-tech/klingdrop/internal/claim"
	"github.com/Klingon-tech/klingdrop/internal/derive"
	"github.com/Klingon-tech/klingdrop/internal/fee"
	"github.com/Klingon-tech/klingdrop/internal/journal"
	"github.com/Klingon-tech/klingdrop/internal/utxo"
)

const (
	flagSecretKey = "secret-key"
	secretKeyEnv  = "KLINGDROP_SECRET_KEY"

	// defaultTarget is the add_drop target the contract tests use.
	defaultTarget = 1
)

func secretKeyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagSecretKey,
		Usage:   "Access key secret (ed25519:<base58>); prompted for when unset",
		EnvVars: []string{secretKeyEnv},
	}
}

// ── claim ───────────────────────────────────────────────────────────────

func claimCommand() *cli.Command {
	return &cli.Command{
		Name:      "claim",
		Usage:     "Settle one drop and print the signed transaction",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "funding", Usage: "Funding address of the drop"},
			&cli.StringFlag{Name: "funder-key", Usage: "Funder public key (hex); used when --funding is not set"},
			&cli.StringFlag{Name: "receiver", Usage: "Receiver address", Required: true},
			secretKeyFlag(),
		},
		Action: func(c *cli.Context) error {
			e := getEnv(c)
			funding, err := fundingAddress(c, e)
			if err != nil {
				return err
			}
			claimer, err := e.claimer()
			if err != nil {
				return err
			}
			// Claims are signed by the contract account with a drop key.
			if err := e.installKey(c, e.cfg.Ledger.ContractID); err != nil {
				return err
			}

			out, err := claimer.Claim(c.Context, claim.Drop{
				FundingAddress: funding,
				Receiver:       c.String("receiver"),
				DropSats:       e.cfg.Claim.DropSats,
			})
			if err != nil {
				return err
			}
			return printJSON(outcomeView(out))
		},
	}
}

// batchEntry is one line item of a claim-batch file.
type batchEntry struct {
	FundingAddress string `json:"funding_address"`
	Receiver       string `json:"receiver"`
	DropSats       uint64 `json:"drop_sats,omitempty"`
}

func claimBatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "claim-batch",
		Usage:     "Settle drops listed in a JSON file concurrently",
		ArgsUsage: "<file.json>",
		Flags:     []cli.Flag{secretKeyFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: klingdrop claim-batch <file.json>")
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}
			var entries []batchEntry
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("parse batch: %w", err)
			}
			if len(entries) == 0 {
				return errors.New("batch is empty")
			}

			e := getEnv(c)
			claimer, err := e.claimer()
			if err != nil {
				return err
			}
			if err := e.installKey(c, e.cfg.Ledger.ContractID); err != nil {
				return err
			}

			drops := make([]claim.Drop, len(entries))
			for i, entry := range entries {
				sats := entry.DropSats
				if sats == 0 {
					sats = e.cfg.Claim.DropSats
				}
				drops[i] = claim.Drop{FundingAddress: entry.FundingAddress, Receiver: entry.Receiver, DropSats: sats}
			}

			results, err := claimer.ClaimAll(c.Context, drops)
			if err != nil {
				return err
			}

			type row struct {
				FundingAddress string       `json:"funding_address"`
				Outcome        *outcomeJSON `json:"outcome,omitempty"`
				Error          string       `json:"error,omitempty"`
			}
			rows := make([]row, len(results))
			var failed int
			for i, r := range results {
				rows[i].FundingAddress = r.Drop.FundingAddress
				if r.Err != nil {
					failed++
					rows[i].Error = r.Err.Error()
					continue
				}
				rows[i].Outcome = outcomeView(r.Outcome)
			}
			if err := printJSON(rows); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d claims failed", failed, len(results))
			}
			return nil
		},
	}
}

type outcomeJSON struct {
	Attempt      string `json:"attempt"`
	UTXO         string `json:"utxo"`
	Value        uint64 `json:"value"`
	DropSats     uint64 `json:"drop_sats"`
	ChangeSats   int64  `json:"change_sats"`
	Fee          int64  `json:"fee"`
	TxHash       string `json:"tx_hash,omitempty"`
	Recovered    bool   `json:"recovered,omitempty"`
	SignedTx     string `json:"signed_tx,omitempty"`
	TxID         string `json:"txid,omitempty"`
	DecodeError  string `json:"decode_error,omitempty"`
	BroadcastErr string `json:"broadcast_error,omitempty"`
}

func outcomeView(out *claim.Outcome) *outcomeJSON {
	v := &outcomeJSON{
		Attempt:    out.Attempt,
		UTXO:       out.Request.UTXO.Outpoint().String(),
		Value:      out.Request.UTXO.Value,
		DropSats:   out.Request.DropSats,
		ChangeSats: out.Request.ChangeSats,
		Fee:        out.Request.Fee(),
		TxHash:     out.TxHash,
		Recovered:  out.Recovered,
		TxID:       out.TxID,
	}
	if out.SignedTx != nil {
		v.SignedTx = hex.EncodeToString(out.SignedTx)
	}
	if out.DecodeErr != nil {
		v.DecodeError = out.DecodeErr.Error()
	}
	if out.BroadcastErr != nil {
		v.BroadcastErr = out.BroadcastErr.Error()
	}
	return v
}

func fundingAddress(c *cli.Context, e *env) (string, error) {
	if addr := c.String("funding"); addr != "" {
		return addr, nil
	}
	if key := c.String("funder-key"); key != "" {
		return derive.FundingAddress(key, e.params)
	}
	return "", errors.New("--funding or --funder-key is required")
}

// ── utxo / change ───────────────────────────────────────────────────────

func utxoCommand() *cli.Command {
	return &cli.Command{
		Name:      "utxo",
		Usage:     "Show the output a claim would spend",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: klingdrop utxo <address>")
			}
			u, err := utxo.NewSelector(getEnv(c).esplora()).SelectFundingUTXO(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return printJSON(u)
		},
	}
}

func changeCommand() *cli.Command {
	return &cli.Command{
		Name:      "change",
		Usage:     "Compute the change of a claim at the current fee rate",
		ArgsUsage: "<balance-sats>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: klingdrop change <balance-sats>")
			}
			var balance uint64
			if _, err := fmt.Sscan(c.Args().First(), &balance); err != nil {
				return fmt.Errorf("invalid balance %q", c.Args().First())
			}

			e := getEnv(c)
			calc := fee.NewCalculator(e.esplora()).WithTarget(e.cfg.Esplora.FeeTarget)
			change, err := calc.ComputeChange(c.Context, balance, e.cfg.Claim.DropSats)
			if err != nil {
				return err
			}
			fmt.Printf("Balance: %d\n", balance)
			fmt.Printf("Drop:    %d\n", e.cfg.Claim.DropSats)
			fmt.Printf("Change:  %d\n", change)
			fmt.Printf("Fee:     %d\n", int64(balance)-int64(e.cfg.Claim.DropSats)-change)
			if change <= 0 {
				return claim.ErrInsufficientChange
			}
			return nil
		},
	}
}

// ── view ────────────────────────────────────────────────────────────────

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:      "view",
		Usage:     "Call a view method of the contract",
		ArgsUsage: "<method> [json-args]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return errors.New("usage: klingdrop view <method> [json-args]")
			}
			e := getEnv(c)
			if e.cfg.Ledger.ContractID == "" {
				return errors.New("no contract configured (set ledger.contract or --contract)")
			}

			var args interface{} = map[string]interface{}{}
			if c.NArg() == 2 {
				if err := json.Unmarshal([]byte(c.Args().Get(1)), &args); err != nil {
					return fmt.Errorf("parse args: %w", err)
				}
			}
			res, err := e.ledger().View(c.Context, e.cfg.Ledger.ContractID, c.Args().First(), args)
			if err != nil {
				return err
			}
			if !res.Defined {
				fmt.Println("null")
				return nil
			}
			return printJSON(res.Value)
		},
	}
}

// ── drop ────────────────────────────────────────────────────────────────

func dropCommand() *cli.Command {
	return &cli.Command{
		Name:  "drop",
		Usage: "Manage drops and claim keys",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a drop for a funder key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "funder-key", Usage: "Funder public key (hex)", Required: true},
					&cli.Uint64Flag{Name: "amount", Usage: "Drop amount in sats (default: claim.drop_sats)"},
					&cli.UintFlag{Name: "target", Usage: "Contract target id", Value: defaultTarget},
					secretKeyFlag(),
				},
				Action: func(c *cli.Context) error {
					e := getEnv(c)
					if _, err := derive.ParseFunderKey(c.String("funder-key")); err != nil {
						return err
					}
					if c.Uint("target") > 255 {
						return fmt.Errorf("target %d out of range", c.Uint("target"))
					}
					amount := e.cfg.Claim.DropSats
					if c.IsSet("amount") {
						amount = c.Uint64("amount")
					}

					contract, err := e.ownerContract(c)
					if err != nil {
						return err
					}
					res, err := contract.AddDrop(c.Context, uint8(c.Uint("target")), amount, c.String("funder-key"), e.cfg.Derive.Path)
					if err != nil {
						return err
					}
					fmt.Printf("Drop added (tx %s)\n", res.TxHash)
					return nil
				},
			},
			{
				Name:      "add-key",
				Usage:     "Attach a claim key to a drop",
				ArgsUsage: "<drop-id> <ed25519:key>",
				Flags:     []cli.Flag{secretKeyFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return errors.New("usage: klingdrop drop add-key <drop-id> <ed25519:key>")
					}
					contract, err := getEnv(c).ownerContract(c)
					if err != nil {
						return err
					}
					res, err := contract.AddDropKey(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}
					fmt.Printf("Key added (tx %s)\n", res.TxHash)
					return nil
				},
			},
			{
				Name:      "remove-key",
				Usage:     "Remove a claim key",
				ArgsUsage: "<ed25519:key>",
				Flags:     []cli.Flag{secretKeyFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("usage: klingdrop drop remove-key <ed25519:key>")
					}
					contract, err := getEnv(c).ownerContract(c)
					if err != nil {
						return err
					}
					res, err := contract.RemoveKey(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Printf("Key removed (tx %s)\n", res.TxHash)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List drop ids",
				Action: func(c *cli.Context) error {
					contract, err := getEnv(c).contract()
					if err != nil {
						return err
					}
					ids, err := contract.Drops(c.Context)
					if err != nil {
						return err
					}
					if len(ids) == 0 {
						fmt.Println("No drops.")
						return nil
					}
					for _, id := range ids {
						fmt.Println(id)
					}
					return nil
				},
			},
			{
				Name:      "keys",
				Usage:     "List the claim keys of a drop",
				ArgsUsage: "<drop-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("usage: klingdrop drop keys <drop-id>")
					}
					contract, err := getEnv(c).contract()
					if err != nil {
						return err
					}
					keys, err := contract.Keys(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					for _, k := range keys {
						fmt.Println(k)
					}
					return nil
				},
			},
		},
	}
}

// ── broadcast ───────────────────────────────────────────────────────────

func broadcastCommand() *cli.Command {
	return &cli.Command{
		Name:      "broadcast",
		Usage:     "Resubmit a signed transaction through the configured relay",
		ArgsUsage: "<raw-tx-hex>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: klingdrop broadcast <raw-tx-hex>")
			}
			raw, err := hex.DecodeString(strings.TrimSpace(c.Args().First()))
			if err != nil {
				return fmt.Errorf("raw tx is not hex: %w", err)
			}
			if err := broadcast.New(getEnv(c).relay()).Broadcast(c.Context, raw); err != nil {
				return err
			}
			fmt.Printf("Broadcast %s\n", broadcast.TxID(raw))
			return nil
		},
	}
}

// ── derive ──────────────────────────────────────────────────────────────

func deriveCommand() *cli.Command {
	return &cli.Command{
		Name:  "derive",
		Usage: "Derive the contract's signing address for a path",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Derivation path (default: derive.path)"},
		},
		Action: func(c *cli.Context) error {
			e := getEnv(c)
			if e.cfg.Derive.URL == "" {
				return errors.New("no derivation service configured (set derive.url or --derive-url)")
			}
			if e.cfg.Derive.RootPublicKey == "" {
				return errors.New("derive.root_key is required")
			}
			path := e.cfg.Derive.Path
			if c.IsSet("path") {
				path = c.String("path")
			}

			d, err := e.deriver().Derive(c.Context, derive.Request{
				RootPublicKey: e.cfg.Derive.RootPublicKey,
				AccountID:     e.cfg.Ledger.ContractID,
				Path:          path,
				Chain:         e.cfg.Chain.Name,
			})
			if err != nil {
				return err
			}
			funding, err := derive.FundingAddress(d.PublicKey, e.params)
			if err != nil {
				return err
			}

			fmt.Printf("Address:    %s\n", d.Address)
			fmt.Printf("Public key: %s\n", d.PublicKey)
			fmt.Printf("Funding:    %s\n", funding)
			return nil
		},
	}
}

// ── journal ─────────────────────────────────────────────────────────────

func journalCommand() *cli.Command {
	return &cli.Command{
		Name:      "journal",
		Usage:     "Show recorded claim attempts",
		ArgsUsage: "[record-id]",
		Action: func(c *cli.Context) error {
			j, err := getEnv(c).journal()
			if err != nil {
				return err
			}
			if c.NArg() == 1 {
				rec, err := j.Get(c.Args().First())
				if err != nil {
					return err
				}
				return printJSON(rec)
			}

			recs, err := j.List()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No claims recorded.")
				return nil
			}
			fmt.Printf("%-64s  %-9s  %-36s  %s\n", "ID", "STATE", "RECEIVER", "UPDATED")
			for _, r := range recs {
				fmt.Printf("%-64s  %-9s  %-36s  %s\n", r.ID, stateLabel(r), r.Receiver, r.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func stateLabel(r *journal.Record) string {
	if r.Recovered {
		return string(r.State) + "*"
	}
	return string(r.State)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
