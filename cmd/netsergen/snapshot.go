package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/exp/slices"

	"github.com/lk2023060901/danmu-garden-netser/application"
	"github.com/lk2023060901/danmu-garden-netser/internal/network/compressor"
	"github.com/lk2023060901/danmu-garden-netser/internal/network/crypto"
	"github.com/lk2023060901/danmu-garden-netser/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-netser/internal/replay"
	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/scan"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// snapshotVersion 是快照中 scan.Result 的根版本。
const snapshotVersion = 1

var snapshotKDFInfo = []byte("netsergen snapshot v1")

// snapshotSerializer 返回只注册了 *scan.Result 的 netser 序列化器。
func snapshotSerializer() (*serializer.NetSerializer, error) {
	reg := netser.NewRegistry(netser.WithLogger(log.With(log.FieldComponent("snapshot"))))
	if err := reg.Root((*scan.Result)(nil), netser.WithVersion(snapshotVersion, 1)); err != nil {
		return nil, err
	}
	if err := reg.Generate(); err != nil {
		return nil, err
	}
	return serializer.NewNetSerializer(reg, nil), nil
}

// snapshotOptions 总是压缩；passphrase 非空时用 HKDF 派生加密与签名密钥。
func snapshotOptions(passphrase string) ([]replay.Option, func(), error) {
	zc, err := compressor.NewZstdCompressor()
	if err != nil {
		return nil, nil, err
	}
	opts := []replay.Option{replay.WithCompressor(zc)}
	if passphrase != "" {
		keys := make([]byte, 64)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(passphrase), nil, snapshotKDFInfo), keys); err != nil {
			zc.Close()
			return nil, nil, errors.Wrap(err, "derive snapshot keys")
		}
		codec, err := crypto.NewAESGCMHMACCodec(keys[:32], keys[32:])
		if err != nil {
			zc.Close()
			return nil, nil, err
		}
		opts = append(opts, replay.WithEncryptor(codec))
	}
	return opts, zc.Close, nil
}

// recordSnapshot 把一次扫描结果写成单帧快照文件。
func recordSnapshot(app *application.Application, path, passphrase string, res *scan.Result) error {
	ser, err := snapshotSerializer()
	if err != nil {
		return err
	}
	opts, done, err := snapshotOptions(passphrase)
	if err != nil {
		return err
	}
	defer done()

	s := app.Settings()
	opts = append(opts, replay.WithMetadata(map[string]any{
		"tool":     "netsergen",
		"version":  version,
		"dir":      s.Dir,
		"patterns": lo.ToAnySlice(s.Patterns),
		"targets":  len(res.Targets),
	}))
	var buf bytes.Buffer
	rec, err := replay.NewRecorder(&buf, ser, opts...)
	if err != nil {
		return err
	}
	if err := rec.Record(res); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	app.Logger("snapshot").Info("scan snapshot recorded",
		zap.String("file", path),
		zap.Int("frames", rec.Frames()),
		zap.Int64("bytes", rec.Bytes()),
		zap.Bool("encrypted", passphrase != ""))
	return nil
}

func replayCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return merr.WrapErrInvalidArgument("replay needs exactly one snapshot file")
	}
	path := c.Args().First()
	ser, err := snapshotSerializer()
	if err != nil {
		return err
	}
	opts, done, err := snapshotOptions(c.String("key"))
	if err != nil {
		return err
	}
	defer done()

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	player, err := replay.NewPlayer(f, ser, opts...)
	if err != nil {
		return err
	}

	w := c.App.Writer
	asJSON := c.Bool("json")
	if !asJSON {
		md := player.Metadata()
		keys := lo.Keys(md)
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s: %v\n", k, md[k])
		}
	}
	for {
		var res *scan.Result
		err := player.Next(&res)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if asJSON {
			out, err := serializer.JSONSerializer{}.Marshal(res)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, string(out)); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "\n# frame %d\n", player.Frames()-1)
		if err := printTable(w, res); err != nil {
			return err
		}
	}
}
