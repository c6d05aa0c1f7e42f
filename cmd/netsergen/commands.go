package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-netser/application"
	"github.com/lk2023060901/danmu-garden-netser/internal/json"
	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/scan"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// loadApp 加载配置，命令行参数覆盖配置文件中的同名项。
func loadApp(c *cli.Context) (*application.Application, error) {
	opts := []application.Option{application.WithConfigPath(c.GlobalString("config"))}
	if c.IsSet("dir") {
		opts = append(opts, application.WithOverride("dir", c.String("dir")))
	}
	if c.IsSet("tags") {
		opts = append(opts, application.WithOverride("tags", c.StringSlice("tags")))
	}
	if c.NArg() > 0 {
		opts = append(opts, application.WithOverride("patterns", []string(c.Args())))
	}
	for _, key := range []string{"out", "package", "pkgpath"} {
		if c.IsSet(key) {
			name := key
			if key == "out" {
				name = "file"
			}
			opts = append(opts, application.WithOverride("output."+name, c.String(key)))
		}
	}

	app := application.New(opts...)
	if err := app.Load(); err != nil {
		return nil, err
	}
	return app, nil
}

func runScan(app *application.Application) (*scan.Result, error) {
	s := app.Settings()
	ctx, span := log.NewIntentContext("netsergen", "scan")
	defer span.End()
	return scan.Targets(ctx, scan.Config{
		Dir:         s.Dir,
		Patterns:    s.Patterns,
		Tags:        s.Tags,
		Allow:       s.AllowFunc(),
		Concurrency: s.Concurrency,
		Logger:      app.Logger("scan"),
	})
}

func scanCommand(c *cli.Context) (err error) {
	app, err := loadApp(c)
	if err != nil {
		return err
	}
	res, err := runScan(app)
	if err != nil {
		return err
	}

	if path := c.String("record"); path != "" {
		if err := recordSnapshot(app, path, c.String("key"), res); err != nil {
			return err
		}
	}
	if c.Bool("json") {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, string(out))
		return err
	}
	return printTable(c.App.Writer, res)
}

func printTable(w io.Writer, res *scan.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARG\tTARGET\tSTATE")
	for _, t := range res.Targets {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", t.ArgType, t.QualifiedName(), t.HasState)
	}
	for _, p := range res.Skipped {
		fmt.Fprintf(tw, "-\t%s\tskipped\n", p)
	}
	return tw.Flush()
}

func genCommand(c *cli.Context) (err error) {
	app, err := loadApp(c)
	if err != nil {
		return err
	}
	out := app.Settings().Output
	if out.Package == "" {
		return merr.WrapErrInvalidArgument("output package is required (--package or output.package)")
	}
	res, err := runScan(app)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := res.WriteRegistration(&buf, out.Package, out.PkgPath); err != nil {
		return err
	}
	if out.File == "-" {
		_, err = c.App.Writer.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(out.File, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", out.File)
	}
	app.Logger("gen").Info("registration written",
		zap.String("file", out.File),
		zap.Int("targets", len(res.Targets)))
	return nil
}
