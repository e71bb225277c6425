package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tablesync/internal/api"
	"tablesync/internal/client"
	"tablesync/internal/transport"
	"tablesync/session"
)

type options struct {
	server  string
	session string
	user    string
	token   string
	verbose bool
}

// newRootCmd creates the root command for tablecli. It is called once in main.
func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "tablecli",
		Short:        "Terminal client for a live table session",
		Long:         "tablecli attaches to one table session, keeps its state synchronized over a live stream with a polling fallback, and lets you act from the keyboard.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "service base URL")
	cmd.Flags().StringVar(&opts.session, "session", "", "session id to attach to")
	cmd.Flags().StringVar(&opts.user, "user", "", "your user id")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token, if the service wants one")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("user")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	apiClient, err := api.New(api.Config{
		BaseURL: opts.server,
		Token:   func() string { return opts.token },
		Logger:  log,
	})
	if err != nil {
		return err
	}

	var header http.Header
	if opts.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + opts.token}}
	}
	wsURL := toWebsocketURL(opts.server)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ui := &renderer{viewerUserID: opts.user}

	c, err := client.New(client.Config{
		SessionID:    opts.session,
		ViewerUserID: opts.user,
		API:          apiClient,
		NewChannel: func(h transport.Hooks) client.Channel {
			return transport.New(transport.Config{
				URL:    wsURL,
				Header: header,
				Logger: log,
			}, h)
		},
		Callbacks: client.Callbacks{
			OnConnectionState:  ui.connectionState,
			OnSessionUpdate:    ui.sessionUpdate,
			OnHandResult:       ui.handResult,
			OnTransientMessage: ui.transientMessage,
			OnNavigate: func(dest transport.Destination) {
				ui.navigate(dest)
				cancel()
			},
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("attach to session %s: %w", opts.session, err)
	}
	pterm.Info.Printfln("Attached to session %s as %s", opts.session, opts.user)
	printHelp()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readCommands(ctx, c, cancel)
	})
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// readCommands is the keyboard loop. Every line becomes one client call;
// a "pre" prefix queues the action for the next turn instead of sending
// it immediately.
func readCommands(ctx context.Context, c *client.Client, quit func()) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		queued := false
		if fields[0] == "pre" {
			if len(fields) == 1 {
				pterm.Warning.Println("pre needs an action, e.g. `pre call`")
				continue
			}
			queued = true
			fields = fields[1:]
		}

		if err := dispatch(c, fields, queued, quit); err != nil {
			if errors.Is(err, client.ErrClosed) {
				return nil
			}
			if errors.Is(err, client.ErrBusy) {
				pterm.Warning.Println("Hold on, the previous action is still in flight.")
				continue
			}
			pterm.Error.Println(err.Error())
		}
	}
	return scanner.Err()
}

func dispatch(c *client.Client, fields []string, queued bool, quit func()) error {
	verb := strings.ToLower(fields[0])
	switch verb {
	case "check", "call", "fold", "bet", "raise", "checkfold":
		kind, amount, err := parseAction(verb, fields[1:])
		if err != nil {
			return err
		}
		if queued {
			return c.SetPreAction(kind, amount)
		}
		return c.SubmitAction(kind, amount)
	case "ready":
		return c.Ready()
	case "cashout":
		return c.CashOut()
	case "buyback":
		amount, err := parseAmount(fields[1:])
		if err != nil {
			return err
		}
		return c.BuyBackIn(amount)
	case "start":
		return c.StartSession()
	case "reset":
		return c.Reset()
	case "leave":
		if err := c.Leave(); err != nil {
			return err
		}
		quit()
		return nil
	case "history":
		return printHistory(c)
	case "help":
		printHelp()
		return nil
	case "quit", "exit":
		quit()
		return nil
	default:
		return fmt.Errorf("unknown command %q, try `help`", verb)
	}
}

func parseAction(verb string, rest []string) (session.ActionKind, int64, error) {
	switch verb {
	case "check":
		return session.ActionCheck, 0, nil
	case "call":
		return session.ActionCall, 0, nil
	case "fold":
		return session.ActionFold, 0, nil
	case "checkfold":
		return session.ActionCheckOrFold, 0, nil
	case "bet":
		amount, err := parseAmount(rest)
		return session.ActionBet, amount, err
	case "raise":
		amount, err := parseAmount(rest)
		return session.ActionRaise, amount, err
	}
	return "", 0, fmt.Errorf("unknown action %q", verb)
}

func parseAmount(rest []string) (int64, error) {
	if len(rest) == 0 {
		return 0, errors.New("an amount is required")
	}
	amount, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("bad amount %q", rest[0])
	}
	return amount, nil
}

func printHistory(c *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	records, err := c.HandHistory(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		pterm.Info.Println("No completed hands yet.")
		return nil
	}
	data := pterm.TableData{{"Hand", "Pot", "Outcome", "Winners"}}
	for _, r := range records {
		winners := make([]string, 0, len(r.Winners))
		for _, w := range r.Winners {
			winners = append(winners, fmt.Sprintf("%s (+%d)", w.ParticipantID, w.Amount))
		}
		data = append(data, []string{
			strconv.Itoa(r.HandNumber),
			strconv.FormatInt(r.PotAmount, 10),
			r.Type,
			strings.Join(winners, ", "),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printHelp() {
	pterm.DefaultBox.WithTitle("commands").Println(strings.Join([]string{
		"check / call / fold / bet <n> / raise <n>",
		"pre <action>   queue the action for your next turn",
		"checkfold      check if free, otherwise fold",
		"ready / cashout / buyback <n>",
		"start / reset / leave / history / quit",
	}, "\n"))
}
