package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "mailcross",
		Usage: "multi-account IMAP mail client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"MAILCROSS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path to the account database",
				EnvVars: []string{"MAILCROSS_DB"},
			},
		},
		Action: runTUI,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the terminal client",
				Action: runTUI,
			},
			{
				Name:      "login",
				Usage:     "store the password of an account in the system keyring",
				ArgsUsage: "<email>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "password",
						Usage: "password to store; prompts when omitted",
					},
				},
				Action: login,
			},
			{
				Name:  "accounts",
				Usage: "manage stored accounts",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list configured and stored accounts",
						Action: listAccounts,
					},
					{
						Name:      "add",
						Usage:     "add or update a stored account",
						ArgsUsage: "<email>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Usage: "display label"},
							&cli.StringFlag{Name: "server", Usage: "IMAP host"},
							&cli.IntFlag{Name: "port", Usage: "IMAP port", Value: 993},
							&cli.BoolFlag{Name: "tls", Usage: "use implicit TLS", Value: true},
							&cli.BoolFlag{Name: "starttls", Usage: "upgrade a plaintext connection"},
						},
						Action: addAccount,
					},
					{
						Name:      "remove",
						Usage:     "forget a stored account and its password",
						ArgsUsage: "<email>",
						Action:    removeAccount,
					},
				},
			},
			{
				Name:   "init",
				Usage:  "write a default configuration file",
				Action: initConfig,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
