// Thomas CLI - command line client for the Thomas chat API
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/thomas/clients/go/thomas"
	"github.com/eldtechnologies/thomas/internal/models"
)

var (
	baseURL string
	token   string
	client  *thomas.Client
)

var rootCmd = &cobra.Command{
	Use:   "thomas",
	Short: "Command line client for the Thomas chat API",
	Long: `Talk to a Thomas server from the terminal.

Environment:
  THOMAS_URL     Server URL (default: http://localhost:8080)
  THOMAS_TOKEN   Session token (mint one locally with cmd/sign)`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = thomas.NewClient(baseURL, token)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Health(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the profile of the session user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		self, err := requireSelf()
		if err != nil {
			return err
		}
		resp, err := client.GetUser(cmd.Context(), self)
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "List friends and pending requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		friends, err := client.Friends(ctx)
		if err != nil {
			return err
		}
		requests, err := client.FriendRequests(ctx)
		if err != nil {
			return err
		}

		if len(friends) == 0 && len(requests) == 0 {
			fmt.Println("No friends yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tSTATE")
		for _, f := range friends {
			fmt.Fprintf(w, "%s\t%s\t%s\tfriend\n", f.ID, f.DisplayName(), f.Email)
		}
		for _, r := range requests {
			u := r.RequestUser
			fmt.Fprintf(w, "%s\t%s\t%s\tpending (%d mutual)\n", u.ID, u.DisplayName(), u.Email, r.MutualCount)
		}
		return w.Flush()
	},
}

var addCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Send a friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.AddFriend(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Friend request sent.")
		return nil
	},
}

// friendActionCmd builds accept, deny and unfriend, which share a shape.
func friendActionCmd(use, short, done string, action func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := action(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(done)
			return nil
		},
	}
}

var sendCmd = &cobra.Command{
	Use:   "send <friend_id> <message>",
	Short: "Send a direct message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		self, err := requireSelf()
		if err != nil {
			return err
		}
		chatID := models.NewChatID(self, args[0]).String()

		tl := thomas.NewTimeline(self)
		pending := tl.AddPending(strings.Join(args[1:], " "))

		msg, err := client.SendMessage(cmd.Context(), chatID, pending.Text, pending.ClientID)
		if err != nil {
			if text, ok := tl.Fail(pending.ClientID); ok {
				fmt.Fprintf(os.Stderr, "Not sent: %q\n", text)
			}
			return err
		}
		tl.Confirm(pending.ClientID, msg.ID, msg.Timestamp)
		fmt.Printf("Sent: %s\n", msg.ID)
		return nil
	},
}

var sendServerCmd = &cobra.Command{
	Use:   "send-server <server_id> <message>",
	Short: "Send a message to a server",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		self, err := requireSelf()
		if err != nil {
			return err
		}

		tl := thomas.NewServerTimeline(args[0], models.User{ID: self})
		pending := tl.AddPending(strings.Join(args[1:], " "))

		msg, err := client.SendServerMessage(ctx, args[0], pending.Text, pending.ClientID)
		if err != nil {
			if text, ok := tl.Fail(pending.ClientID); ok {
				fmt.Fprintf(os.Stderr, "Not sent: %q\n", text)
			}
			return err
		}
		tl.Confirm(pending.ClientID, msg.ID, msg.Timestamp)
		fmt.Printf("Sent: %s\n", msg.ID)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <friend_id>",
	Short: "Show recent direct messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		self, err := requireSelf()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		page, err := client.LoadMore(cmd.Context(), models.NewChatID(self, args[0]).String(), offset, limit)
		if err != nil {
			return err
		}

		tl := thomas.NewTimeline(self)
		tl.Prepend(page.Messages)
		for _, e := range tl.Entries() {
			printMessage(e.Message)
		}
		if page.HasMore {
			fmt.Printf("(more with --offset %d)\n", offset+len(page.Messages))
		}
		return nil
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List joined servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := client.Servers(cmd.Context())
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println("No servers joined.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLATEST")
		for _, s := range servers {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.ServerName, truncate(s.LatestMessage.Text, 40))
		}
		return w.Flush()
	},
}

var createServerCmd = &cobra.Command{
	Use:   "create-server <name>",
	Short: "Create a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")
		key, _ := cmd.Flags().GetString("key")

		resp, err := client.CreateServer(cmd.Context(), args[0], image, key)
		if err != nil {
			return err
		}
		fmt.Printf("Created: %s (%s)\n", resp.ID, resp.URL)
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <invite_link>",
	Short: "Join a server by invite link or ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")

		resp, err := client.JoinServer(cmd.Context(), args[0], key)
		if err != nil {
			return err
		}
		fmt.Printf("Joined: %s\n", resp.ID)
		return nil
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave <server_id>",
	Short: "Leave a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.LeaveServer(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Left server.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [user_id...]",
	Short: "Show presence for a user, or for several friends at once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 0 {
			self, err := requireSelf()
			if err != nil {
				return err
			}
			args = []string{self}
		}

		if len(args) == 1 {
			p, err := client.Status(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", args[0], formatPresence(*p))
			return nil
		}

		statuses, err := client.BatchStatus(ctx, args)
		if err != nil {
			return err
		}
		for _, id := range args {
			if p, ok := statuses[id]; ok {
				fmt.Printf("%s: %s\n", id, formatPresence(p))
			}
		}
		return nil
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Mark the session user online, repeating with --every",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		every, _ := cmd.Flags().GetDuration("every")

		beat := func() error {
			p, err := client.Heartbeat(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), p.Status)
			return nil
		}
		if err := beat(); err != nil || every <= 0 {
			return err
		}

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Best effort; the server reaps stale heartbeats anyway.
				offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return client.SetOffline(offCtx)
			case <-ticker.C:
				if err := beat(); err != nil {
					return err
				}
			}
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream realtime events for the session user",
	Long: `Subscribes to the session user's friend, chat and server channels and prints
every event. With --chat or --server, also follows one conversation and
prints it as a reconciled timeline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		self, err := requireSelf()
		if err != nil {
			return err
		}
		friend, _ := cmd.Flags().GetString("chat")
		serverID, _ := cmd.Flags().GetString("server")

		stream, err := client.Dial(ctx)
		if err != nil {
			return err
		}
		defer stream.Close()

		channels := []string{
			"user:" + self + ":incoming_friend_requests",
			"user:" + self + ":friends",
			"user:" + self + ":friend_request_denied",
			"user:" + self + ":unfriended",
			"user:" + self + ":chats",
			"user:" + self + ":servers",
			"user:" + self + ":friend_online_list",
		}

		var (
			tl        *thomas.Timeline
			chatTopic string
		)
		if friend != "" {
			chatID := models.NewChatID(self, friend).String()
			chatTopic = "chat:" + chatID
			channels = append(channels, chatTopic)

			tl = thomas.NewTimeline(self)
			page, err := client.LoadMore(ctx, chatID, 0, 20)
			if err != nil {
				return err
			}
			tl.Prepend(page.Messages)
			for _, e := range tl.Entries() {
				printMessage(e.Message)
			}
		}

		var (
			stl         *thomas.ServerTimeline
			serverTopic string
		)
		if serverID != "" {
			serverTopic = "server-" + serverID + "-messages"
			channels = append(channels, serverTopic)

			stl = thomas.NewServerTimeline(serverID, models.User{ID: self})
			page, err := client.LoadMoreServer(ctx, serverID, 0, 20)
			if err != nil {
				return err
			}
			stl.Prepend(page.Messages)
			for _, e := range stl.Entries() {
				printGroupMessage(e.GroupMessage)
			}
		}

		for _, ch := range channels {
			if err := stream.Subscribe(ch); err != nil {
				return err
			}
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-stream.Events():
				if !ok {
					return stream.Err()
				}
				if tl != nil && ev.Channel == chatTopic && ev.Event == "incoming_message" {
					var msg models.Message
					if err := json.Unmarshal(ev.Data, &msg); err == nil && tl.Receive(msg) {
						printMessage(msg)
					}
					continue
				}
				if stl != nil && ev.Channel == serverTopic && ev.Event == "server-new-message" {
					var msg models.GroupMessage
					if err := json.Unmarshal(ev.Data, &msg); err == nil && stl.Receive(msg) {
						printGroupMessage(msg)
					}
					continue
				}
				fmt.Printf("[%s] %s %s\n", ev.Channel, ev.Event, string(ev.Data))
			}
		}
	},
}

func init() {
	defaultURL := os.Getenv("THOMAS_URL")
	if defaultURL == "" {
		defaultURL = thomas.DefaultURL
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", defaultURL, "Server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Session token (default $THOMAS_TOKEN)")

	historyCmd.Flags().Int("limit", 20, "Number of messages")
	historyCmd.Flags().Int("offset", 0, "Messages to skip, newest first")
	createServerCmd.Flags().String("image", "", "Server image URL")
	createServerCmd.Flags().String("key", "", "Join key required to enter (min 8 chars)")
	joinCmd.Flags().String("key", "", "Join key")
	heartbeatCmd.Flags().Duration("every", 0, "Repeat interval, e.g. 30s")
	watchCmd.Flags().String("chat", "", "Friend ID of a conversation to follow")
	watchCmd.Flags().String("server", "", "Server ID whose messages to follow")

	rootCmd.AddCommand(
		healthCmd,
		whoamiCmd,
		friendsCmd,
		addCmd,
		friendActionCmd("accept", "Accept a friend request", "Friend request accepted.", func(ctx context.Context, id string) error {
			return client.AcceptFriend(ctx, id)
		}),
		friendActionCmd("deny", "Deny a friend request", "Friend request denied.", func(ctx context.Context, id string) error {
			return client.DenyFriend(ctx, id)
		}),
		friendActionCmd("unfriend", "Remove a friend", "Unfriended.", func(ctx context.Context, id string) error {
			return client.Unfriend(ctx, id)
		}),
		sendCmd,
		sendServerCmd,
		historyCmd,
		serversCmd,
		createServerCmd,
		joinCmd,
		leaveCmd,
		statusCmd,
		heartbeatCmd,
		watchCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var apiErr *thomas.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 401 {
			fmt.Fprintln(os.Stderr, "Hint: set THOMAS_TOKEN or pass --token")
		}
		stop()
		os.Exit(1)
	}
}

func requireSelf() (string, error) {
	if client.UserID == "" {
		return "", errors.New("no valid session token; set THOMAS_TOKEN or pass --token")
	}
	return client.UserID, nil
}

func printMessage(m models.Message) {
	ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
	from := m.SenderID
	if m.IsNotification {
		from = "*"
	}
	fmt.Printf("[%s] %s: %s\n", ts, from, m.Text)
}

func printGroupMessage(m models.GroupMessage) {
	ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
	from := m.Sender.Username
	if from == "" {
		from = m.Sender.ID
	}
	if m.IsNotification {
		from = "*"
	}
	fmt.Printf("[%s] %s: %s\n", ts, from, m.Text)
}

func formatPresence(p models.Presence) string {
	if p.Online() || p.LastSeen == nil {
		return p.Status
	}
	return fmt.Sprintf("%s (last seen %s)", p.Status, time.UnixMilli(*p.LastSeen).Format(time.RFC3339))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
