/*
Command dmclient is a terminal client for the forum direct-messaging server.

It signs in with a session token (or, against a development server, provisions
one with --dev-user), opens the conversation named by --to, and sends every
line read from standard input. Lines starting with a slash are commands:

	/older          load an older page of history
	/resend TOKEN   resend a failed message
	/users          print the user list
	/quit           log out and exit
*/
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
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"forumdm/internal/client"
	"forumdm/internal/pkg/logx"
	"forumdm/internal/protocol"
)

type options struct {
	Server      string
	Token       string
	DevUser     int64
	DevName     string
	To          int64
	Reconnect   time.Duration
	Exponential bool
	Debug       bool
}

func loadOptions(args []string) (options, error) {
	flags := pflag.NewFlagSet("dmclient", pflag.ContinueOnError)
	flags.String("server", "http://localhost:8080", "server base URL")
	flags.String("token", "", "session token (env DMCLIENT_TOKEN)")
	flags.Int64("dev-user", 0, "provision this user id on a development server instead of using --token")
	flags.String("dev-name", "", "display name for --dev-user")
	flags.Int64("to", 0, "user id of the conversation to open")
	flags.Duration("reconnect", 3*time.Second, "delay between reconnect attempts")
	flags.Bool("exponential", false, "double the reconnect delay after each failure, up to one minute")
	flags.Bool("debug", false, "human-readable debug logging")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("dmclient")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return options{}, err
	}

	o := options{
		Server:      strings.TrimRight(v.GetString("server"), "/"),
		Token:       v.GetString("token"),
		DevUser:     v.GetInt64("dev-user"),
		DevName:     v.GetString("dev-name"),
		To:          v.GetInt64("to"),
		Reconnect:   v.GetDuration("reconnect"),
		Exponential: v.GetBool("exponential"),
		Debug:       v.GetBool("debug"),
	}
	if o.Token == "" && o.DevUser <= 0 {
		return o, errors.New("either --token or --dev-user is required")
	}
	if o.To <= 0 {
		return o, errors.New("--to is required")
	}
	return o, nil
}

func main() {
	opts, err := loadOptions(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dmclient: %v\n", err)
		os.Exit(2)
	}

	logx.InitGlobalLogger(opts.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logx.Fatal(err, "dmclient exited with error")
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	api := client.NewHTTPAPI(opts.Server, opts.Token)
	if opts.Token == "" {
		name := opts.DevName
		if name == "" {
			name = fmt.Sprintf("user-%d", opts.DevUser)
		}
		if _, err := api.DevSession(ctx, protocol.DevSessionRequest{UserID: opts.DevUser, DisplayName: name}); err != nil {
			return fmt.Errorf("dev session: %w", err)
		}
		logx.Info("Provisioned development session", "user_id", opts.DevUser)
	}

	policy := client.ConstantReconnect(opts.Reconnect)
	if opts.Exponential {
		policy = client.ExponentialReconnect(opts.Reconnect, time.Minute)
	}

	view := newView(out)
	cfg := client.DefaultConfig()
	cfg.Reconnect = policy
	cfg.Hooks = client.Hooks{
		OnState:          view.state,
		OnConversation:   view.conversation,
		OnTyping:         view.typing,
		OnConnectionLost: view.lost,
		OnError:          view.error,
	}

	ctl := client.New(api.Token, client.WebSocketDialer{URL: wsURL(opts.Server)}, api, cfg)
	defer ctl.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := ctl.Run(gctx)
		if errors.Is(err, client.ErrSessionEnded) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := ctl.OpenConversation(gctx, opts.To); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
		err := readLoop(gctx, ctl, in, view)
		ctl.Close()
		return err
	})
	return g.Wait()
}

func readLoop(ctx context.Context, ctl *client.Controller, in io.Reader, view *view) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
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
			if quit := handleLine(ctx, ctl, view, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, ctl *client.Controller, view *view, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
	case "/quit":
		if err := ctl.Logout(ctx); err != nil {
			logx.Warn("Logout failed", "error", err.Error())
		}
		return true
	case "/older":
		n, err := ctl.LoadOlder(ctx)
		if err != nil {
			view.error(err)
		} else if n == 0 {
			view.printf("-- no older messages\n")
		}
	case "/resend":
		if _, err := ctl.Resend(ctx, strings.TrimSpace(arg)); err != nil {
			view.error(err)
		}
	case "/users":
		for _, u := range ctl.Users() {
			status := "offline"
			if u.IsOnline {
				status = "online"
			}
			view.printf("%6d  %-20s %-7s unread=%d  %s\n", u.ID, u.DisplayName, status, u.UnreadCount, u.LastMessagePreview)
		}
	default:
		if _, err := ctl.Send(ctx, line); err != nil {
			view.error(err)
		}
	}
	return false
}

func wsURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://") + "/ws"
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://") + "/ws"
	default:
		return server + "/ws"
	}
}

// view prints conversation changes as they arrive.
type view struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]client.EntryState
}

func newView(out io.Writer) *view {
	return &view{out: out, printed: make(map[string]client.EntryState)}
}

func (v *view) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format, args...)
}

func (v *view) state(s client.State) {
	v.printf("-- %s\n", s)
}

func (v *view) lost(failures int, err error) {
	v.printf("-- disconnected (%d attempts failed): %v\n", failures, err)
}

func (v *view) error(err error) {
	v.printf("!! %v\n", err)
}

func (v *view) typing(userID int64, typing bool, username string) {
	if typing {
		v.printf("-- %s is typing...\n", displayName(userID, username))
	}
}

// conversation prints each entry the first time it is seen in a state.
func (v *view) conversation(counterpart int64, entries []client.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range entries {
		key := e.Token
		if e.State == client.Confirmed {
			key = fmt.Sprintf("#%d", e.ID)
		}
		if prev, ok := v.printed[key]; ok && prev == e.State {
			continue
		}
		v.printed[key] = e.State

		who := "them"
		if e.SenderID != counterpart {
			who = "me"
		}
		switch e.State {
		case client.Confirmed:
			fmt.Fprintf(v.out, "[%s] %s: %s\n", e.CreatedAt.Local().Format("15:04"), who, e.Content)
		case client.Failed:
			fmt.Fprintf(v.out, "!! not delivered (%v); /resend %s\n", e.Err, e.Token)
		}
	}
}

func displayName(userID int64, username string) string {
	if username != "" {
		return username
	}
	return fmt.Sprintf("user %d", userID)
}
