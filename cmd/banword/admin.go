package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bluesky-social/banword/automod"
	"github.com/bluesky-social/banword/automod/policy"

	cli "github.com/urfave/cli/v2"
)

// runs fn against an engine configured from global flags, closing stores afterwards
func withEngine(cctx *cli.Context, fn func(ctx context.Context, eng *automod.Engine) error) error {
	eng, closeStores, err := configureEngine(cctx, automod.EngineConfig{})
	if err != nil {
		return err
	}
	defer closeStores()
	return fn(cctx.Context, eng)
}

func requireArgs(cctx *cli.Context, n int) error {
	if cctx.Args().Len() != n {
		return fmt.Errorf("expected %d arguments, got %d (usage: %s)", n, cctx.Args().Len(), cctx.Command.ArgsUsage)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

var phraseCmd = &cli.Command{
	Name:  "phrase",
	Usage: "manage banned phrases",
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "add a phrase, or update its weight",
			ArgsUsage: "<scope> <phrase> <weight>",
			Action: func(cctx *cli.Context) error {
				if err := requireArgs(cctx, 3); err != nil {
					return err
				}
				weight, err := strconv.Atoi(cctx.Args().Get(2))
				if err != nil {
					return fmt.Errorf("weight must be an integer: %w", err)
				}
				return withEngine(cctx, func(ctx context.Context, eng *automod.Engine) error {
					p, err := eng.SetPhrase(ctx, cctx.Args().Get(0), cctx.Args().Get(1), weight)
					if err != nil {
						return err
					}
					fmt.Printf("added %q with weight %d\n", p.Text, p.Weight)
					return nil
				})
			},
		},
		{
			Name:      "remove",
			Usage:     "remove a phrase",
			ArgsUsage: "<scope> <phrase>",
			Action: func(cctx *cli.Context) error {
				if err := requireArgs(cctx, 2); err != nil {
					return err
				}
				return withEngine(cctx, func(ctx context.Context, eng *automod.Engine) error {
					if err := eng.RemovePhrase(ctx, cctx.Args().Get(0), cctx.Args().Get(1)); err != nil {
						return err
					}
					fmt.Printf("removed %q\n", cctx.Args().Get(1))
					return nil
				})
			},
		},
		{
			Name:      "list",
			Usage:     "list a scope's phrases in insertion order",
			ArgsUsage: "<scope>",
			Action: func(cctx *cli.Context) error {
				if err := requireArgs(cctx, 1); err != nil {
					return err
				}
				return withEngine(cctx, func(ctx context.Context, eng *automod.Engine) error {
					phrases := eng.ListPhrases(cctx.Args().Get(0))
					if len(phrases) == 0 {
						fmt.Println("no banned phrases configured")
						return nil
					}
					for _, p := range phrases {
						fmt.Printf("%s\t%d\n", p.Text, p.Weight)
					}
					return nil
				})
			},
		},
	},
}

var scoreCmd = &cli.Command{
	Name:  "score",
	Usage: "inspect or reset subject scores",
	Subcommands: []*cli.Command{
		{
			Name:      "get",
			ArgsUsage: "<scope> <subject>",
			Action: func(cctx *cli.Context) error {
				if err := requireArgs(cctx, 2); err != nil {
					return err
				}
				return withEngine(cctx, func(ctx context.Context, eng *automod.Engine) error {
					scope, subject := cctx.Args().Get(0), cctx.Args().Get(1)
					score, err := eng.GetScore(ctx, scope, subject)
					if err != nil {
						return err
					}
					fmt.Printf("%d/%d\n", score, eng.Policy.ThresholdFor(scope))
					return nil
				})
			},
		},
		{
			Name:      "reset",
			ArgsUsage: "<scope> <subject>",
			Action: func(cctx *cli.Context) error {
				if err := requireArgs(cctx, 2); err != nil {
					return err
				}
				return withEngine(cctx, func(ctx context.Context, eng *automod.Engine) error {
					return eng.ResetScore(ctx, cctx.Args().Get(0), cctx.Args().Get(1))
				})
			},
		},
	},
}

func scopeSwitchCmd(name string, enabled bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     fmt.Sprintf("switch moderation %s for a scope", name),
		ArgsUsage: "<scope>",
		Action: func(cctx *cli.Context) error {
			if err := requireArgs(cctx, 1); err != nil {
				return err
			}
			return withEngine(cctx, func(ctx context.Context, eng *automod.Engine) error {
				return eng.SetScopeEnabled(ctx, cctx.Args().Get(0), enabled)
			})
		},
	}
}

var scopeCmd = &cli.Command{
	Name:  "scope",
	Usage: "switch moderation on or off per scope",
	Subcommands: []*cli.Command{
		scopeSwitchCmd("on", true),
		scopeSwitchCmd("off", false),
		{
			Name:      "status",
			ArgsUsage: "<scope>",
			Action: func(cctx *cli.Context) error {
				if err := requireArgs(cctx, 1); err != nil {
					return err
				}
				return withEngine(cctx, func(ctx context.Context, eng *automod.Engine) error {
					enabled, err := eng.ScopeEnabled(ctx, cctx.Args().Get(0))
					if err != nil {
						return err
					}
					if enabled {
						fmt.Println("enabled")
					} else {
						fmt.Println("disabled")
					}
					return nil
				})
			},
		},
	},
}

var checkCmd = &cli.Command{
	Name:      "check",
	Usage:     "match text (arguments or stdin) and print the report it would produce; scores are not changed",
	ArgsUsage: "[text]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "scope",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "subject",
			Value: "check",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print the match outcome as JSON",
		},
	},
	Action: func(cctx *cli.Context) error {
		text := strings.Join(cctx.Args().Slice(), " ")
		if text == "" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			text = string(b)
		}
		text = strings.TrimSpace(text)
		return withEngine(cctx, func(ctx context.Context, eng *automod.Engine) error {
			scope, subject := cctx.String("scope"), cctx.String("subject")
			out := eng.Detect(ctx, text, scope, subject)
			if cctx.Bool("json") {
				return printJSON(os.Stdout, out)
			}
			if out.Weight == 0 {
				fmt.Println("no banned phrases matched")
				return nil
			}
			cur, err := eng.GetScore(ctx, scope, subject)
			if err != nil {
				return err
			}
			threshold := eng.Policy.ThresholdFor(scope)
			verdict := policy.Classify(out.Weight, cur+out.Weight, threshold)
			switch verdict.Decision {
			case policy.Escalate:
				fmt.Println(eng.FormatEscalation(subject, verdict.ScoreBeforeReset, threshold, out.Matches, text, out.Annotated, eng.Policy.MuteDurationFor(scope)))
			default:
				fmt.Println(eng.FormatWarning(subject, verdict.Score, threshold, out.Matches, out.Weight))
			}
			return nil
		})
	},
}
