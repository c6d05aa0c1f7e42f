// netsergen 扫描 Go 包中订阅到 netser.Event 的回调函数，并生成对应的 RegisterEvents 注册代码。
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
)

const version = "0.1.0"

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "netsergen"
	app.Usage = "discover netser event callback targets and generate their registration"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to netsergen.yaml (overrides $NETSERGEN_CONFIG_FILE_PATH)",
		},
	}
	keyFlag := cli.StringFlag{
		Name:   "key",
		Usage:  "passphrase for encrypted snapshots",
		EnvVar: "NETSERGEN_SNAPSHOT_KEY",
	}
	scanFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "dir, C",
			Usage: "directory to load packages from",
		},
		cli.StringSliceFlag{
			Name:  "tags",
			Usage: "extra build tags",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:      "scan",
			Usage:     "List callback targets referenced as function values",
			ArgsUsage: "[packages]",
			Flags: append([]cli.Flag{
				cli.BoolFlag{
					Name:  "json",
					Usage: "print the result as JSON",
				},
				cli.StringFlag{
					Name:  "record",
					Usage: "also save the result as a snapshot file",
				},
				keyFlag,
			}, scanFlags...),
			Action: scanCommand,
		},
		cli.Command{
			Name:      "replay",
			Usage:     "Print the scan results stored in a snapshot file",
			ArgsUsage: "<snapshot>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "json",
					Usage: "print each frame as JSON",
				},
				keyFlag,
			},
			Action: replayCommand,
		},
		cli.Command{
			Name:      "gen",
			Usage:     "Write a RegisterEvents function for all discovered targets",
			ArgsUsage: "[packages]",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Usage: "output file, - for stdout",
				},
				cli.StringFlag{
					Name:  "package, p",
					Usage: "package name of the generated file",
				},
				cli.StringFlag{
					Name:  "pkgpath",
					Usage: "import path of the generated file's package",
				},
			}, scanFlags...),
			Action: genCommand,
		},
	}
	return app
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "netsergen:", err)
		log.Error("netsergen failed", log.FieldComponent("netsergen"), zap.Error(err))
	}
	log.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
