// kharcha-admin is a maintenance tool for user provisioning and wallet
// adjustments, run against the same database as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"kharcha/internal/auth"
	"kharcha/internal/cli"
	"kharcha/internal/log"
	"kharcha/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "create-user":
		err = createUser(ctx, logger, repo, cfg.JWTSecret, cfg.TokenTTL, os.Args[2:])
	case "set-wallet":
		err = setWallet(ctx, logger, repo, os.Args[2:])
	case "show-wallet":
		err = showWallet(ctx, repo, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: kharcha-admin <command> [flags]

commands:
  create-user  -username <name> -password <pass> [-upi-cents n] [-cash-cents n]
  set-wallet   -username <name> -upi-cents <n> -cash-cents <n>
  show-wallet  -username <name>`)
}

func createUser(ctx context.Context, logger *log.Logger, repo *storage.SQLiteRepository, secret string, ttl time.Duration, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("username", "", "username for the new account")
	password := fs.String("password", "", "initial password")
	upi := fs.Int64("upi-cents", 0, "initial UPI balance in cents")
	cash := fs.Int64("cash-cents", 0, "initial cash balance in cents")
	fs.Parse(args)

	manager := auth.NewManager(repo, secret, ttl)
	id, err := manager.Register(ctx, *username, *password)
	if err != nil {
		return err
	}

	if *upi > 0 || *cash > 0 {
		if err := repo.SetWalletBalances(ctx, id, *upi, *cash); err != nil {
			return err
		}
	}

	logger.Info("User created", "user_id", id, "username", *username, "upi_cents", *upi, "cash_cents", *cash)
	return nil
}

func setWallet(ctx context.Context, logger *log.Logger, repo *storage.SQLiteRepository, args []string) error {
	fs := flag.NewFlagSet("set-wallet", flag.ExitOnError)
	username := fs.String("username", "", "account to adjust")
	upi := fs.Int64("upi-cents", 0, "UPI balance in cents")
	cash := fs.Int64("cash-cents", 0, "cash balance in cents")
	fs.Parse(args)

	rec, err := repo.UserByUsername(ctx, *username)
	if err != nil {
		return err
	}
	if err := repo.SetWalletBalances(ctx, rec.ID, *upi, *cash); err != nil {
		return err
	}

	logger.Info("Wallet updated", "user_id", rec.ID, "username", rec.Username, "upi_cents", *upi, "cash_cents", *cash)
	return nil
}

func showWallet(ctx context.Context, repo *storage.SQLiteRepository, args []string) error {
	fs := flag.NewFlagSet("show-wallet", flag.ExitOnError)
	username := fs.String("username", "", "account to inspect")
	fs.Parse(args)

	rec, err := repo.UserByUsername(ctx, *username)
	if err != nil {
		return err
	}
	w, err := repo.WalletBalances(ctx, rec.ID)
	if err != nil {
		return err
	}

	fmt.Printf("user %s (id %d)\n  UPI:  %.2f\n  Cash: %.2f\n", rec.Username, rec.ID, w.UPI.Rupees(), w.Cash.Rupees())
	return nil
}
