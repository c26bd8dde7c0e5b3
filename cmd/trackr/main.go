// Command trackr runs the trackr session and realtime server and its
// operational subcommands.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"trackr/cmd/internal/app"
	"trackr/cmd/internal/db"

	"aidanwoods.dev/go-paseto"
	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "trackr",
		Usage:   "issue tracker session and realtime server",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading the environment",
				Value: cli.NewStringSlice(".env"),
			},
		},
		Before: func(c *cli.Context) error {
			return app.LoadDotEnv(c.StringSlice("env-file")...)
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and realtime server (default)",
				Action: serve,
			},
			migrateCommand(),
			{
				Name:   "keygen",
				Usage:  "print a fresh PASETO v4 secret key for TRACKR_PASETO_V4_SECRET_KEY_HEX",
				Action: keygen,
			},
			smokeCommand(),
		},
	}
}

func serve(_ *cli.Context) error {
	return app.Run()
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "apply embedded schema migrations",
		ArgsUsage: "up|down",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres connection string",
				EnvVars: []string{"TRACKR_DATABASE_URL"},
			},
		},
		Action: func(c *cli.Context) error {
			dir, err := db.ParseDirection(c.Args().First())
			if err != nil {
				return err
			}
			dsn := strings.TrimSpace(c.String("database-url"))
			if dsn == "" {
				return errors.New("migrate: TRACKR_DATABASE_URL or --database-url is required")
			}
			if err := db.Migrate(dsn, dir); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.App.Writer, "migrate %s: ok\n", dir)
			return nil
		},
	}
}

func keygen(c *cli.Context) error {
	key := paseto.NewV4AsymmetricSecretKey()
	_, err := fmt.Fprintln(c.App.Writer, key.ExportHex())
	return err
}
