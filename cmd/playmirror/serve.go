package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"playmirror/internal/config"
	"playmirror/internal/display"
	"playmirror/internal/input"
	"playmirror/internal/render"
	"playmirror/internal/server"
	"playmirror/internal/session"
)

type serveOptions struct {
	configPath    string
	socket        string
	width         int
	height        int
	rate          int
	windowed      bool
	addr          string
	token         string
	tls           bool
	reverseScroll bool
	discreteWheel bool
	statsInterval time.Duration
}

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the display server and the input control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file (watched for scroll settings)")
	f.StringVar(&opts.socket, "socket", display.DefaultSocketPath, "Control socket path")
	f.IntVar(&opts.width, "width", 1920, "Display width in pixels")
	f.IntVar(&opts.height, "height", 1080, "Display height in pixels")
	f.IntVar(&opts.rate, "rate", 60, "Display refresh rate in Hz")
	f.BoolVar(&opts.windowed, "windowed", false, "Present frames directly instead of through the paced pipeline")
	f.StringVar(&opts.addr, "addr", "127.0.0.1:8080", "HTTP listen address (empty disables the control surface)")
	f.StringVar(&opts.token, "token", "", "Bearer token for the control surface")
	f.BoolVar(&opts.tls, "tls", false, "Serve HTTPS with a self-signed certificate")
	f.BoolVar(&opts.reverseScroll, "reverse-scroll", false, "Do not invert wheel direction")
	f.BoolVar(&opts.discreteWheel, "discrete-wheel", false, "Discard fractional scroll remainders after each tick")
	f.DurationVar(&opts.statsInterval, "stats", 0, "Log display stats at this interval (0 disables)")
	return cmd
}

// apply overrides file values with flags given on the command line.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("socket") {
		cfg.Display.SocketPath = o.socket
	}
	if changed("width") {
		cfg.Display.Width = o.width
	}
	if changed("height") {
		cfg.Display.Height = o.height
	}
	if changed("rate") {
		cfg.Display.RefreshRate = o.rate
	}
	if changed("windowed") {
		cfg.Display.Windowed = o.windowed
	}
	if changed("addr") {
		cfg.HTTP.Addr = o.addr
	}
	if changed("token") {
		cfg.HTTP.Token = o.token
	}
	if changed("tls") {
		cfg.HTTP.TLS = o.tls
	}
	if changed("reverse-scroll") {
		cfg.Input.ReverseScroll = o.reverseScroll
	}
	if changed("discrete-wheel") {
		cfg.Input.DiscreteWheel = o.discreteWheel
	}
}

type status struct {
	Display  string                `json:"display"`
	Peer     string                `json:"peer,omitempty"`
	Socket   string                `json:"socket"`
	Dispatch display.Stats         `json:"dispatch"`
	Frames   render.Stats          `json:"frames"`
	Session  *server.SessionStatus `json:"session,omitempty"`
	Contacts int                   `json:"contacts"`
	Uptime   string                `json:"uptime"`
}

func runServe(cfg *config.Config, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := input.NewRouter(cfg.RouterConfig())
	defer router.Close()
	for _, p := range router.Paths() {
		if err := input.CreateFIFO(p, cfg.Input.PipeUID, cfg.Input.PipeGID); err != nil {
			return err
		}
	}

	frames := render.NewFrameStore()
	defer frames.Close()

	disp := display.NewDispatcher(display.DispatcherConfig{
		Width:       cfg.Display.Width,
		Height:      cfg.Display.Height,
		RefreshRate: cfg.Display.RefreshRate,
		Windowed:    cfg.Display.Windowed,
		Surface:     frames,
		Pipeline:    frames,
	})
	dsrv := display.NewServer(cfg.Display.SocketPath, disp)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := dsrv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("display: %w", err)
		}
		return nil
	})

	started := time.Now()
	var hsrv *server.Server
	if cfg.HTTP.Addr != "" {
		if cfg.HTTP.Token == "" {
			log.Printf("server: no token configured, control surface is open to anyone who can reach %s", cfg.HTTP.Addr)
		}
		var ice []string
		if cfg.HTTP.STUNURL != "" {
			ice = []string{cfg.HTTP.STUNURL}
		}
		scfg := server.Config{
			Addr:     cfg.HTTP.Addr,
			Token:    cfg.HTTP.Token,
			TLS:      cfg.HTTP.TLS,
			TLSHosts: cfg.HTTP.TLSHosts,
			Session:  session.Config{ICEServers: ice},
			EnableWS: cfg.HTTP.EnableWS,
			Sink:     router,
		}
		if cfg.HTTP.DebugPNG {
			scfg.Frames = frames
		}
		scfg.Status = func() any {
			st, peer := dsrv.State()
			var sess *server.SessionStatus
			if ss, ok := hsrv.Session(); ok {
				sess = &ss
			}
			return status{
				Display:  st.String(),
				Peer:     peer,
				Socket:   dsrv.Path(),
				Dispatch: disp.Stats(),
				Frames:   frames.Stats(),
				Session:  sess,
				Contacts: router.ActiveContacts(),
				Uptime:   time.Since(started).Round(time.Second).String(),
			}
		}
		hsrv = server.New(scfg)
		g.Go(func() error {
			if err := hsrv.ListenAndServe(ctx); err != nil {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}

	if opts.configPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, opts.configPath, func(next *config.Config) {
				router.SetScrollMode(next.Input.ReverseScroll, next.Input.DiscreteWheel)
				log.Printf("input: scroll mode reverse=%v discrete=%v", next.Input.ReverseScroll, next.Input.DiscreteWheel)
			})
		})
	}

	if opts.statsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(opts.statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					d := disp.Stats()
					fs := frames.Stats()
					log.Printf("stats: presented=%d dropped=%d ignored=%d frames=%d rejected=%d",
						d.Presented, d.Dropped, d.Ignored, fs.Frames, fs.Rejected)
				}
			}
		})
	}

	return g.Wait()
}
