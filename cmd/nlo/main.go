package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nlo/internal/config"
	"nlo/internal/keys"

	"github.com/urfave/cli/v3"
)

func commonFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to configuration yaml file",
			Value: config.DefaultFile,
		},
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "dotenv file merged over the process environment, repeatable",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "log debug messages to stdout",
		},
	}, extra...)
}

func profilesFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "profiles",
		Aliases: []string{"p"},
		Usage:   "Docker Compose profiles to activate",
	}
}

func snapshotFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "snapshot",
		Usage:    "snapshot URI, or an id under the snapshot base URI",
		Required: required,
	}
}

func seedsFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "seeds-from-cluster",
		Usage: "read node seeds from the namespace's authority pods",
	}
}

func imageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "services",
			Usage: "upgrade order; default is every service in the network file",
		},
		&cli.StringFlag{
			Name:  "include",
			Usage: "only upgrade services matching this regular expression",
		},
		&cli.StringFlag{
			Name:  "exclude",
			Usage: "skip services matching this regular expression",
		},
		&cli.DurationFlag{
			Name:  "wait-between",
			Usage: "pause after each service when health gating is off",
		},
		&cli.DurationFlag{
			Name:  "health-timeout",
			Usage: "how long each service may take to report healthy",
		},
		&cli.BoolFlag{
			Name:  "no-health-gate",
			Usage: "do not wait for each service to report healthy",
		},
	}
}

func runtimeFlags(wasmRequired bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "wasm",
			Usage:    "path to the runtime wasm blob",
			Required: wasmRequired,
		},
		&cli.StringFlag{
			Name:  "rpc-url",
			Usage: "node websocket RPC endpoint",
		},
		&cli.StringFlag{
			Name:  "sudo-uri",
			Usage: "secret URI of the sudo key (default: $SUDO_URI, then //Alice)",
		},
		&cli.IntFlag{
			Name:  "delay-blocks",
			Usage: "blocks to wait before submitting",
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "nlo",
		Usage:   "Network Lifecycle Orchestrator",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Start a network, optionally from a snapshot",
				ArgsUsage: "<namespace>",
				Flags:     commonFlags(profilesFlag(), snapshotFlag(false), seedsFlag()),
				Action:    runNetwork,
			},
			{
				Name:      "stop",
				Usage:     "Stop a network",
				ArgsUsage: "<namespace>",
				Flags:     commonFlags(profilesFlag()),
				Action:    stopNetwork,
			},
			{
				Name:      "restore",
				Usage:     "Restore a snapshot into the network's data mounts",
				ArgsUsage: "<namespace>",
				Flags:     commonFlags(snapshotFlag(true)),
				Action:    restoreSnapshot,
			},
			{
				Name:      "keystore",
				Usage:     "Write node keystore files from seed variables",
				ArgsUsage: "<namespace>",
				Flags:     commonFlags(seedsFlag()),
				Action:    writeKeystore,
			},
			{
				Name:      "snapshot",
				Usage:     "Capture a bootnode volume snapshot to object storage",
				ArgsUsage: "<namespace>",
				Flags: commonFlags(
					&cli.StringFlag{
						Name:  "statefulset",
						Usage: "workload whose volume is captured",
					},
					&cli.StringFlag{
						Name:  "pvc",
						Usage: "claim to mount; discovered from the workload name when empty",
					},
					&cli.StringFlag{
						Name:  "uri",
						Usage: "destination object URI or prefix",
					},
					&cli.StringFlag{
						Name:  "image",
						Usage: "container image of the snapshot pod",
					},
					&cli.StringFlag{
						Name:  "script",
						Usage: "shell script run by the snapshot pod instead of the built-in one",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "how long the snapshot pod may run",
					},
				),
				Action: captureSnapshot,
			},
			{
				Name:      "snapshots",
				Usage:     "List snapshot archives under the snapshot base URI",
				ArgsUsage: "[namespace]",
				Flags: commonFlags(&cli.StringFlag{
					Name:  "uri",
					Usage: "prefix to list",
				}),
				Action: listSnapshots,
			},
			{
				Name:      "image-upgrade",
				Usage:     "Roll services from $NODE_IMAGE to $NEW_NODE_IMAGE one at a time",
				ArgsUsage: "<namespace>",
				Flags: commonFlags(append(imageFlags(),
					profilesFlag(),
					snapshotFlag(false),
					&cli.BoolFlag{
						Name:  "skip-run",
						Usage: "assume the network is already up",
					},
				)...),
				Action: imageUpgrade,
			},
			{
				Name:      "runtime-upgrade",
				Usage:     "Submit a runtime upgrade through sudo and wait for finality",
				ArgsUsage: "<namespace>",
				Flags: commonFlags(append(runtimeFlags(true),
					profilesFlag(),
					snapshotFlag(false),
					&cli.BoolFlag{
						Name:  "skip-run",
						Usage: "assume the network is already up",
					},
				)...),
				Action: runtimeUpgrade,
			},
			{
				Name:      "upgrade-sequence",
				Usage:     "Run a runtime upgrade and an image upgrade in either order",
				ArgsUsage: "<namespace>",
				Flags: commonFlags(append(append(runtimeFlags(true), imageFlags()...),
					profilesFlag(),
					snapshotFlag(false),
					&cli.StringFlag{
						Name:     "order",
						Usage:    "runtime-then-image or image-then-runtime",
						Required: true,
					},
				)...),
				Action: upgradeSequence,
			},
			{
				Name:  "genkey",
				Usage: "Generate the age identity used to decrypt encrypted snapshots",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Usage:    "path of the identity file to create",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					_, err := keys.Generate(cmd.String("out"), os.Stdout)
					return err
				},
			},
			{
				Name:      "check",
				Usage:     "Check config, required binaries and optionally a network and the object store",
				ArgsUsage: "[namespace]",
				Flags: commonFlags(&cli.BoolFlag{
					Name:  "store",
					Usage: "also verify object store credentials",
				}),
				Action: runCheck,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nInterrupted")
			os.Exit(130)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
