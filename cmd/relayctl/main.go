package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"go_relay/internal/callerclient"
	"go_relay/internal/relay"
)

func main() {
	app := &cli.App{
		Name:  "relayctl",
		Usage: "dispatch commands to connected agents through the relay broker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "broker base URL",
				Value:   "http://127.0.0.1:8080",
				EnvVars: []string{"RELAY_URL"},
			},
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "account username",
				EnvVars: []string{"RELAY_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "account password",
				EnvVars: []string{"RELAY_PASSWORD"},
			},
		},
		Commands: []*cli.Command{
			signupCmd(),
			execCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "relayctl:", err)
		os.Exit(1)
	}
}

func signupCmd() *cli.Command {
	return &cli.Command{
		Name:  "signup",
		Usage: "create an account and print its agent auth token",
		Action: func(c *cli.Context) error {
			client := callerclient.New(c.String("url"))
			session, err := client.Signup(c.String("username"), c.String("password"))
			if err != nil {
				return err
			}
			fmt.Printf("user:       %s (id %d)\n", session.User.Username, session.User.ID)
			fmt.Printf("auth token: %s\n", session.AuthToken)
			fmt.Printf("session:    %s (expires %s)\n", session.Token, session.ExpireAt)
			return nil
		},
	}
}

func execCmd() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "run a command on every connected agent and wait for results",
		ArgsUsage: "<command>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "method",
				Usage: "HTTP method forwarded to the agent",
				Value: "GET",
			},
			&cli.StringFlag{
				Name:  "body",
				Usage: "request body forwarded to the agent",
			},
			&cli.StringFlag{
				Name:  "context",
				Usage: "opaque context echoed back with the command",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "poll interval",
				Value: time.Second,
			},
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "maximum poll attempts before giving up",
				Value: 30,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one command argument")
			}
			client := callerclient.New(c.String("url"))
			if _, err := client.Login(c.String("username"), c.String("password")); err != nil {
				return fmt.Errorf("login: %w", err)
			}

			dispatch, err := client.Dispatch(c.Args().First(), c.String("method"), c.String("body"), c.String("context"))
			if err != nil {
				return fmt.Errorf("dispatch: %w", err)
			}
			fmt.Printf("dispatched to %d agent(s)\n", len(dispatch.CommandIDs))

			results, err := client.Poll(dispatch.CommandIDs, c.Duration("interval"), c.Int("attempts"))
			if err != nil {
				return fmt.Errorf("poll: %w", err)
			}

			byCommand := make(map[string]string, len(dispatch.Results))
			for _, r := range dispatch.Results {
				byCommand[r.CommandID] = r.AgentID
			}
			for _, id := range dispatch.CommandIDs {
				view, ok := results[id]
				if !ok {
					continue
				}
				fmt.Printf("--- agent %s (%s)\n", byCommand[id], view.Status)
				switch view.Status {
				case relay.StatusCompleted:
					fmt.Println(formatResult(view.Result))
				case relay.StatusError:
					fmt.Println(view.Error)
				default:
					fmt.Printf("still pending after %d attempts\n", c.Int("attempts"))
				}
			}
			return nil
		},
	}
}

// formatResult pretty-prints JSON results and passes everything else through.
func formatResult(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}
