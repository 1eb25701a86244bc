// cpn is the command-line client for a running companion daemon.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quantumlife/companion/internal/agent"
	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/notifications"
)

var (
	serverURL string
	userID    int64
	timeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "cpn",
		Short:        "Talk to your companion",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("COMPANION_URL", "http://localhost:8080"), "daemon URL")
	rootCmd.PersistentFlags().Int64Var(&userID, "user", int64(core.DefaultUserID), "user id")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 90*time.Second, "request timeout")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(commitmentsCmd())
	rootCmd.AddCommand(checkinCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(timeCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func client() *Client {
	return NewClient(serverURL, userID, timeout)
}

// width is the terminal width, or 80 when stdout is not a terminal.
func width() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return 80
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// chatCmd sends one message, or runs a conversation loop without args.
func chatCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with your companion",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			ctx := cmd.Context()
			if len(args) > 0 {
				return sendChat(ctx, c, session, strings.Join(args, " "))
			}

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			if interactive {
				fmt.Println("Type a message, or /quit to leave.")
			}
			scanner := bufio.NewScanner(os.Stdin)
			for {
				if interactive {
					fmt.Print("> ")
				}
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				}
				if err := sendChat(ctx, c, session, line); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	return cmd
}

func sendChat(ctx context.Context, c *Client, session, message string) error {
	var resp agent.ChatResponse
	body := map[string]string{"message": message, "session_id": session}
	if err := c.Do(ctx, "POST", "/chat", body, &resp); err != nil {
		return err
	}
	fmt.Println(resp.Response)
	for _, a := range resp.Actions {
		fmt.Printf("   ✓ %s\n", a)
	}
	for _, m := range resp.Proactive {
		fmt.Printf("   💬 %s\n", m.Content)
	}
	return nil
}

func commitmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "commitments",
		Aliases: []string{"c"},
		Short:   "List and manage commitments",
	}

	var status string
	var habits bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List commitments",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/commitments?status=" + status
			if habits {
				path += "&recurring=true"
			}
			var items []core.Commitment
			if err := client().Do(cmd.Context(), "GET", path, nil, &items); err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Nothing on your list.")
				return nil
			}
			w := width()
			for _, c := range items {
				due := ""
				switch {
				case c.IsRecurring():
					due = string(c.RecurrencePattern)
				case c.Deadline != nil:
					due = "due " + core.DateOf(*c.Deadline)
				}
				line := fmt.Sprintf("%4d  %-9s %-12s %s", c.ID, c.Status, due, c.TaskDescription)
				fmt.Println(truncate(line, w))
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "pending,active", "statuses to show")
	list.Flags().BoolVar(&habits, "habits", false, "only recurring commitments")

	var deadline, recurrence string
	add := &cobra.Command{
		Use:   "add [description]",
		Short: "Add a commitment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"task_description": strings.Join(args, " ")}
			if deadline != "" {
				body["deadline"] = deadline
			}
			if recurrence != "" {
				body["recurrence_pattern"] = recurrence
			}
			var c core.Commitment
			if err := client().Do(cmd.Context(), "POST", "/commitments", body, &c); err != nil {
				return err
			}
			fmt.Printf("Added #%d %s\n", c.ID, c.TaskDescription)
			return nil
		},
	}
	add.Flags().StringVar(&deadline, "due", "", "deadline, a date or e.g. \"tomorrow\"")
	add.Flags().StringVar(&recurrence, "every", "", "recurrence: daily, weekly, monthly")

	action := func(name, short, verb string) *cobra.Command {
		return &cobra.Command{
			Use:   name + " [id]",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid id %q", args[0])
				}
				var c core.Commitment
				if err := client().Do(cmd.Context(), "POST", fmt.Sprintf("/commitments/%d/%s", id, name), nil, &c); err != nil {
					return err
				}
				fmt.Printf("%s #%d %s\n", verb, c.ID, c.TaskDescription)
				return nil
			},
		}
	}

	remove := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Do(cmd.Context(), "DELETE", "/commitments/"+args[0], nil, nil)
		},
	}

	cmd.AddCommand(list, add, remove,
		action("complete", "Mark a commitment done for today", "Completed"),
		action("skip", "Skip a habit for today", "Skipped"),
		action("dismiss", "Dismiss a commitment", "Dismissed"),
		action("postpone", "Move a deadline to tomorrow", "Postponed"),
	)
	return cmd
}

func checkinCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "checkin [mood 1-5]",
		Short: "Record today's mood",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mood, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("mood must be a number from 1 to 5")
			}
			var out core.DailyCheckIn
			body := map[string]interface{}{"mood": mood, "notes": notes}
			if err := client().Do(cmd.Context(), "POST", "/checkin", body, &out); err != nil {
				return err
			}
			fmt.Printf("Mood %d recorded for %s\n", out.Mood, out.CheckInDate)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Show messages from your companion",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list struct {
				Pending    []core.ProactiveMessage `json:"pending"`
				Unanswered []core.ProactiveMessage `json:"unanswered"`
			}
			if err := client().Do(cmd.Context(), "GET", "/proactive", nil, &list); err != nil {
				return err
			}
			if len(list.Unanswered) == 0 {
				fmt.Println("No open messages.")
			}
			for _, m := range list.Unanswered {
				fmt.Printf("%4d  %s\n", m.ID, m.Content)
			}
			if len(list.Pending) > 0 {
				fmt.Printf("\n%d message(s) scheduled.\n", len(list.Pending))
			}
			return nil
		},
	}

	reply := &cobra.Command{
		Use:   "reply [id] [text]",
		Short: "Answer a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"content": strings.Join(args[1:], " ")}
			return client().Do(cmd.Context(), "POST", "/proactive/"+args[0]+"/respond", body, nil)
		},
	}
	cmd.AddCommand(reply)
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream messages as they are sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return client().Watch(ctx, func(ev notifications.Event) {
				switch ev.Type {
				case notifications.EventHello:
					fmt.Println("Connected. Waiting for messages...")
				case notifications.EventProactive:
					if ev.Payload != nil {
						fmt.Printf("[%s] %s\n", ev.Timestamp.Local().Format("15:04"), ev.Payload.Content)
					}
				}
			})
		},
	}
}

func timeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Inspect or drive the daemon's fake clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return timeRequest(cmd, "GET", "/debug/time", nil)
		},
	}

	var start string
	var multiplier float64
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start accelerated time",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"time_multiplier": multiplier}
			if start != "" {
				body["fake_start_time"] = start
			}
			return timeRequest(cmd, "POST", "/debug/time/start", body)
		},
	}
	startCmd.Flags().StringVar(&start, "at", "", "fake start time (default now)")
	startCmd.Flags().Float64Var(&multiplier, "x", clock.DefaultMultiplier, "fake seconds per real second")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Return to real time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return timeRequest(cmd, "POST", "/debug/time/stop", nil)
		},
	}

	jumpCmd := &cobra.Command{
		Use:   "jump [time|duration]",
		Short: "Jump to a time or forward by a duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"target_time": args[0]}
			if _, err := time.ParseDuration(args[0]); err == nil {
				body = map[string]string{"advance": args[0]}
			}
			return timeRequest(cmd, "POST", "/debug/time/jump", body)
		},
	}

	cmd.AddCommand(startCmd, stopCmd, jumpCmd)
	return cmd
}

func timeRequest(cmd *cobra.Command, method, path string, body interface{}) error {
	var st struct {
		clock.Status
		Enabled bool `json:"enabled"`
	}
	if err := client().Do(cmd.Context(), method, path, body, &st); err != nil {
		return err
	}
	state := "real time"
	if st.Running {
		state = fmt.Sprintf("fake time x%g", st.Multiplier)
	}
	fmt.Printf("%s (%s)\n", st.FakeNow.Local().Format("Mon 2006-01-02 15:04:05"), state)
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var health map[string]interface{}
			if err := client().Do(cmd.Context(), "GET", "/health", nil, &health); err != nil {
				return err
			}
			for _, key := range []string{"status", "time", "uptime_seconds", "memory", "websocket_clients"} {
				if v, ok := health[key]; ok {
					fmt.Printf("%-18s %v\n", key, v)
				}
			}
			return nil
		},
	}
}
