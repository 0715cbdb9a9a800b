package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voxsync/internal/bootstrap"
	"voxsync/internal/domain"
	"voxsync/internal/usecase"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open a realtime session and chat from the terminal",
	Long: `chat opens a realtime session. Lines typed on stdin are sent as
user messages. Commands:

  /mute     replace the microphone with silence
  /unmute   attach the microphone
  /status   print the session status
  /quit     close the session and exit`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		services, err := bootstrap.Assemble(cfg, newConsoleSink(out))
		if err != nil {
			return err
		}
		defer services.Close()

		if metricsAddr != "" {
			srv := serveMetrics(metricsAddr, services.Logger.Logger)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runChat(ctx, services.Controller, cmd.InOrStdin(), out)
	},
}

// chatSession is the part of the session controller the terminal drives.
type chatSession interface {
	StartSession(ctx context.Context) error
	StopSession() error
	MuteSession() error
	UnmuteSession(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	Status() domain.Status
}

func runChat(ctx context.Context, session chatSession, in io.Reader, out io.Writer) error {
	if err := session.StartSession(ctx); err != nil {
		return err
	}
	defer session.StopSession()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, session, strings.TrimSpace(line), out)
			if err != nil {
				fmt.Fprintf(out, "!! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, session chatSession, line string, out io.Writer) (bool, error) {
	switch line {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/mute":
		return false, session.MuteSession()
	case "/unmute":
		err := session.UnmuteSession(ctx)
		if errors.Is(err, usecase.ErrNoAudioPath) {
			return false, errors.New("this transport is text only")
		}
		return false, err
	case "/status":
		status := session.Status()
		fmt.Fprintf(out, "-- %s, microphone %s, turn %s\n", status.State, status.Track, status.Turn)
		return false, nil
	}
	if strings.HasPrefix(line, "/") {
		return false, fmt.Errorf("unknown command %s", line)
	}
	err := session.SendText(ctx, line)
	if errors.Is(err, usecase.ErrNoActiveSession) {
		return true, err
	}
	return false, err
}
