// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Program kproxy runs an intercepting proxy for a binary request/response
// wire protocol, and provides utilities for inspecting its traffic.
package main

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	"github.com/kproxy-io/kproxy"
	"github.com/kproxy-io/kproxy/channel"
	"github.com/kproxy-io/kproxy/conns"
	"github.com/kproxy-io/kproxy/filters"
	"github.com/kproxy-io/kproxy/future"
	"github.com/kproxy-io/kproxy/internal/admin"
	"github.com/kproxy-io/kproxy/schema"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "An intercepting proxy for binary request/response traffic.",
		Commands: []*command.C{
			{
				Name:     "serve",
				Usage:    "--config <path>",
				Help:     "Proxy client connections to an upstream broker.",
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:  "peek",
				Usage: "<file>",
				Help: `Describe the frames stored in a capture file.

The file must contain frames with a 4-byte big-endian length prefix, as
they appear on the wire. Use "-" to read from stdin.`,
				SetFlags: command.Flags(flax.MustBind, &peekFlags),
				Run:      runPeek,
			},
			{
				Name:  "type",
				Usage: "<type>...",
				Help: `Describe wire schema types.

Each argument is a schema type expression, for example "int32",
"string", or "[]Partition". The tool reports the wire properties of
each type.`,
				Run: runType,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

var serveFlags struct {
	Config string `flag:"config,Path to the TOML configuration file (required)"`
}

// A serveConfig is the TOML layout of the serve configuration file.
type serveConfig struct {
	Listen   string `toml:"listen"`    // client listen address
	Upstream string `toml:"upstream"`  // upstream broker address
	Admin    string `toml:"admin"`     // admin endpoint address; empty disables
	LogLevel string `toml:"log_level"` // zerolog level name; empty means info

	Rewrite struct {
		Host string `toml:"host"`
		Port int32  `toml:"port"`
	} `toml:"rewrite"`

	Logger struct {
		Enabled bool `toml:"enabled"`
	} `toml:"logger"`

	Sasl struct {
		Users map[string]string `toml:"users"` // user name to password
	} `toml:"sasl"`
}

func loadConfig(path string) (*serveConfig, error) {
	var cfg serveConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if undec := md.Undecoded(); len(undec) != 0 {
		return nil, fmt.Errorf("unknown configuration keys: %v", undec)
	}
	if cfg.Listen == "" || cfg.Upstream == "" {
		return nil, errors.New("config must set listen and upstream")
	}
	return &cfg, nil
}

// chains builds a fresh pair of filter chains for one connection. Filter
// instances are per connection and must not be shared.
func (c *serveConfig) chains() (req, rsp *kproxy.Chain, _ error) {
	var reqf, rspf []kproxy.Filter
	if c.Logger.Enabled {
		reqf = append(reqf, filters.TrafficLogger{})
		rspf = append(rspf, filters.TrafficLogger{})
	}
	if len(c.Sasl.Users) != 0 {
		reqf = append(reqf, &filters.SaslGate{Auth: staticAuth(c.Sasl.Users)})
	}
	if c.Rewrite.Host != "" {
		rspf = append(rspf, &filters.BrokerAddressRewrite{
			Advertise: filters.FixedAdvertise(c.Rewrite.Host, c.Rewrite.Port),
		})
	}
	req, err := kproxy.NewChain(reqf...)
	if err != nil {
		return nil, nil, err
	}
	rsp, err = kproxy.NewChain(rspf...)
	if err != nil {
		return nil, nil, err
	}
	return req, rsp, nil
}

// staticAuth validates plain authentication data against a fixed user table.
type staticAuth map[string]string

func (s staticAuth) Authenticate(authBytes []byte) *future.Future[[]byte] {
	p, f := future.New[[]byte]()
	// Plain mechanism data: authzid NUL authcid NUL passwd.
	parts := bytes.SplitN(authBytes, []byte{0}, 3)
	if len(parts) != 3 {
		p.Fail(errors.New("malformed authentication data"))
		return f
	}
	user, passwd := string(parts[1]), string(parts[2])
	if want, ok := s[user]; !ok || want != passwd {
		p.Fail(fmt.Errorf("invalid credentials for %q", user))
		return f
	}
	p.Succeed(nil)
	return f
}

func runServe(env *command.Env) error {
	if serveFlags.Config == "" {
		return env.Usagef("You must provide a --config file")
	}
	cfg, err := loadConfig(serveFlags.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := zerolog.ParseLevel(cmp.Or(cfg.LogLevel, "info"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	// Verify the chain configuration before accepting any traffic.
	if _, _, err := cfg.chains(); err != nil {
		return fmt.Errorf("configure filters: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lst, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	defer lst.Close()
	log.Info().Str("listen", cfg.Listen).Str("upstream", cfg.Upstream).Msg("proxy listening")

	g := taskgroup.New(cancel)
	if cfg.Admin != "" {
		srv := &admin.Server{
			Addr:     cfg.Admin,
			Registry: kproxy.DefaultMetrics().Registry(),
			Log:      log,
		}
		g.Go(func() error { return srv.Run(ctx) })
	}

	newConn := func() *kproxy.Conn {
		req, rsp, err := cfg.chains()
		if err != nil {
			panic(err) // validated above
		}
		return kproxy.NewConn(req, rsp).
			SetLogger(log).
			OnExit(func(err error) {
				if err != nil {
					log.Error().Err(err).Msg("connection failed")
				}
			})
	}
	g.Go(func() error {
		return conns.Loop(ctx, conns.NetAccepter(lst), conns.NetDialer(cfg.Upstream), newConn)
	})

	<-ctx.Done()
	lst.Close()
	err = g.Wait()
	log.Info().Err(err).Msg("proxy stopped")
	return err
}

var peekFlags struct {
	Max int `flag:"max,Stop after this many frames (0 for no limit)"`
}

func runPeek(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("You must provide a capture file")
	}
	var in io.Reader = os.Stdin
	if env.Args[0] != "-" {
		f, err := os.Open(env.Args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	ch := channel.IO(in, nopCloser{})
	for n := 1; peekFlags.Max == 0 || n <= peekFlags.Max; n++ {
		payload, err := ch.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		req, err := kproxy.ParseOpaqueRequest(payload, false)
		if err != nil {
			fmt.Printf("%d: unreadable frame (%d bytes): %v\n", n, len(payload), err)
			continue
		}
		fmt.Printf("%d: %v\n", n, req)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Write(p []byte) (int, error) { return len(p), nil }

func (nopCloser) Close() error { return nil }

func runType(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("You must provide at least one type expression")
	}
	for _, arg := range env.Args {
		t, err := schema.Parse(arg)
		if err != nil {
			return fmt.Errorf("type %q: %w", arg, err)
		}
		fmt.Printf("%v:\n", t)
		if n, fixed := t.FixedLength(); fixed {
			fmt.Printf("  fixed length: %d bytes\n", n)
		} else {
			fmt.Println("  variable length")
		}
		fmt.Printf("  flexible encoding differs: %v\n", t.FlexibleDiffers())
		fmt.Printf("  nullable: %v\n", t.CanBeNullable())
	}
	return nil
}
