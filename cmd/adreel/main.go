// Package main provides a command-line client that requests an ad video and
// waits for it to finish.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maauso/adreel-api/internal/client"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("adreel", flag.ContinueOnError)
	baseURL := fs.String("api", envOr("ADREEL_API_URL", "http://localhost:8080"), "API base URL")
	prompt := fs.String("prompt", "", "ad description (required unless -job is set)")
	imageURL := fs.String("image", "", "optional product image URL")
	duration := fs.Int("duration", 0, "video length in seconds")
	jobID := fs.String("job", "", "wait for an existing job instead of creating one")
	delay := fs.Duration("delay", client.DefaultInitialDelay, "wait before the first status poll")
	interval := fs.Duration("interval", client.DefaultInterval, "delay between status polls")
	maxAttempts := fs.Int("max-attempts", 0, "give up after this many polls (0 waits until interrupted)")
	verbose := fs.Bool("v", false, "log poll errors")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *prompt == "" && *jobID == "" {
		fs.Usage()
		return errors.New("-prompt or -job is required")
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(*baseURL)
	if err != nil {
		return err
	}

	id := *jobID
	if id == "" {
		resp, err := c.Generate(ctx, client.GenerateRequest{
			Prompt:          *prompt,
			ImageURL:        *imageURL,
			DurationSeconds: *duration,
		})
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		if resp.Immediate() {
			printVideo(out, resp.VideoURL, resp.CDNURL)
			return nil
		}
		id = resp.JobID
		fmt.Fprintf(out, "job %s queued\n", id)
	}

	start := time.Now()
	last := ""
	poller := client.NewPoller(c, logger)
	poller.InitialDelay = *delay
	poller.Interval = *interval
	poller.MaxAttempts = *maxAttempts
	poller.OnUpdate = func(j client.Job) {
		if j.Status != last {
			fmt.Fprintf(out, "[%s] %s\n", time.Since(start).Round(time.Second), j.Status)
			last = j.Status
		}
	}

	final, err := poller.Wait(ctx, id)
	if err != nil {
		return fmt.Errorf("wait for job %s: %w", id, err)
	}
	if final.Status == "failed" {
		msg := "unknown error"
		if final.ErrorText != nil {
			msg = *final.ErrorText
		}
		return fmt.Errorf("job %s failed: %s", id, msg)
	}
	if final.ResultURL != nil {
		printVideo(out, *final.ResultURL, "")
	}
	return nil
}

func printVideo(out io.Writer, videoURL, cdnURL string) {
	fmt.Fprintf(out, "video: %s\n", videoURL)
	if cdnURL != "" {
		fmt.Fprintf(out, "cdn:   %s\n", cdnURL)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
