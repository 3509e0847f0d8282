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

	"playmirror/internal/display"
	"playmirror/internal/render"
)

func newProduceCommand() *cobra.Command {
	var socket string
	var frames int

	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Send a scrolling colour-bar pattern to a running server",
		Long: `produce connects to the control socket as a producer, queries the display
mode and sends memfd-backed XRGB8888 frames at the reported refresh rate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := runProduce(ctx, socket, frames)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&socket, "socket", display.DefaultSocketPath, "Control socket path")
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Number of frames to send (0 = until interrupted)")
	return cmd
}

func runProduce(ctx context.Context, socket string, frames int) error {
	log.Printf("produce: connecting to %s", socket)
	c, err := display.Connect(ctx, socket)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if err := c.Hello(); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	res, err := c.Resolution()
	if err != nil {
		return fmt.Errorf("resolution: %w", err)
	}
	log.Printf("produce: display %dx%d @ %d mHz", res.Width, res.Height, res.RefreshMilliHz)

	buf, err := render.NewPatternBuffer(res.Width, res.Height)
	if err != nil {
		return err
	}
	defer buf.Close()

	interval := res.RefreshInterval()
	if interval <= 0 {
		interval = time.Second / 60
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; frames == 0 || n < frames; n++ {
		if err := buf.Draw(n); err != nil {
			return err
		}
		if err := c.SendBuffer(buf.FD(), buf.Meta()); err != nil {
			return fmt.Errorf("send frame %d: %w", n, err)
		}
		select {
		case <-ctx.Done():
			log.Printf("produce: sent %d frames", n+1)
			return ctx.Err()
		case <-ticker.C:
		}
	}
	log.Printf("produce: sent %d frames", frames)
	return nil
}
