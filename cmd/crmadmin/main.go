// crmadmin manages CocoCRM accounts from the command line.
//
//	crmadmin init-db
//	crmadmin create-admin [--username admin] [--email addr] [--password pw]
//	crmadmin seed
//
// Passwords that are not given on the command line are generated and
// printed once.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/denverlabs/cococrm/internal/config"
	"github.com/denverlabs/cococrm/internal/database"
	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/models"
	"github.com/denverlabs/cococrm/internal/repository"
	"github.com/denverlabs/cococrm/pkg/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "crmadmin: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]

	flags := pflag.NewFlagSet("crmadmin "+cmd, pflag.ContinueOnError)
	postgresURI := flags.String("postgres-uri", "", "PostgreSQL URI (default: POSTGRES_URI)")
	username := flags.String("username", "admin", "account username")
	email := flags.String("email", "", "account email")
	password := flags.String("password", "", "account password (generated when empty)")
	verbose := flags.BoolP("verbose", "v", false, "log at debug level")
	if err := flags.Parse(rest); err != nil {
		return err
	}
	if *verbose {
		logger.Init(logger.Options{Level: "debug"})
	}

	uri := *postgresURI
	if uri == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		uri = cfg.PostgresURI
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := database.ConnectPostgres(ctx, uri)
	if err != nil {
		return err
	}
	defer db.Close()

	switch cmd {
	case "init-db":
		// ConnectPostgres has already created the tables.
		fmt.Println("Tables created.")
		return nil
	case "create-admin":
		return upsertAccount(ctx, db, account{Username: *username, Email: *email, Password: *password, FirstName: "Admin"})
	case "seed":
		for _, a := range []account{
			{Username: "admin", Email: "admin@cococrm.com", FirstName: "Admin"},
			{Username: "coco", Email: "coco@openclaw.ai", FirstName: "Coco", Service: true},
		} {
			if err := upsertAccount(ctx, db, a); err != nil {
				return err
			}
		}
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type account struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	Service   bool
}

// upsertAccount creates the account, or resets its password when it
// already exists.
func upsertAccount(ctx context.Context, db *sql.DB, a account) error {
	generated := a.Password == ""
	a, err := prepareAccount(a)
	if err != nil {
		return err
	}
	digest, err := utils.HashPassword(a.Password)
	if err != nil {
		return err
	}

	users := repository.NewUserRepository(db)
	existing, err := users.GetByUsername(ctx, a.Username)
	switch {
	case err == nil:
		if err := users.SetPassword(ctx, existing.ID, digest); err != nil {
			return err
		}
		fmt.Printf("Updated password for %s (id %d)\n", existing.Username, existing.ID)
	case errors.Is(err, repository.ErrNotFound):
		u := &models.User{
			Username:     a.Username,
			Email:        a.Email,
			PasswordHash: digest,
			FirstName:    a.FirstName,
			IsService:    a.Service,
		}
		if err := users.Create(ctx, u); err != nil {
			return fmt.Errorf("create %s: %w", a.Username, err)
		}
		fmt.Printf("Created %s (id %d)\n", u.Username, u.ID)
	default:
		return err
	}

	if generated {
		fmt.Printf("  password: %s\n", a.Password)
	}
	if n, err := users.Count(ctx); err == nil {
		fmt.Printf("  total users: %d\n", n)
	}
	return nil
}

// prepareAccount validates a and returns it in stored form, generating a
// password when none was given.
func prepareAccount(a account) (account, error) {
	if err := utils.ValidateUsername(a.Username); err != nil {
		return a, err
	}
	if err := utils.ValidateEmail(a.Email); err != nil {
		return a, err
	}
	if a.Password == "" {
		pw, err := randomPassword()
		if err != nil {
			return a, err
		}
		a.Password = pw
	} else if len(a.Password) < utils.MinPasswordLength {
		return a, fmt.Errorf("password must be at least %d characters", utils.MinPasswordLength)
	}
	a.Username = utils.NormalizeUsername(a.Username)
	a.Email = utils.NormalizeEmail(a.Email)
	return a, nil
}

func randomPassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: crmadmin <command> [flags]

Commands:
  init-db        create tables and indexes
  create-admin   create an account or reset its password
  seed           create the admin and coco accounts

Flags:
  --postgres-uri string   PostgreSQL URI (default: POSTGRES_URI)
  --username string       account username (default "admin")
  --email string          account email
  --password string       account password (generated when empty)
  -v, --verbose           log at debug level
`)
}
