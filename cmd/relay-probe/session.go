package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphan267/pulse-relay/pkg/relayclient"
)

var (
	displayName string
	endOnExit   bool
)

var hostCmd = &cobra.Command{
	Use:   "host <stream-id>",
	Short: "Host a stream and print relay messages until interrupted",
	Long: `Open a stream as its host. Viewers joining, chat lines and call
signals are printed as they arrive. The stream is rejoined after a reconnect.

Examples:
  relay-probe host 42 --token $PULSE_TOKEN
  relay-probe host 42 --end`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return runSession(cmd.Context(), func(c *relayclient.Client) error {
			return c.HostStream(id)
		}, func(c *relayclient.Client) {
			if endOnExit {
				_ = c.EndStream(id)
			}
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <stream-id>",
	Short: "Join a stream as a viewer and print relay messages until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return runSession(cmd.Context(), func(c *relayclient.Client) error {
			return c.JoinStream(id, displayName)
		}, func(c *relayclient.Client) {
			_ = c.LeaveStream(id)
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <stream-id> <message...>",
	Short: "Join a stream and send one chat line",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, text := args[0], strings.Join(args[1:], " ")

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()

		return runSession(ctx, func(c *relayclient.Client) error {
			if err := c.JoinStream(id, displayName); err != nil {
				return err
			}
			return c.Chat(id, text)
		}, func(c *relayclient.Client) {
			_ = c.LeaveStream(id)
		})
	},
}

func init() {
	hostCmd.Flags().BoolVar(&endOnExit, "end", false, "End the stream for everyone on exit")
	watchCmd.Flags().StringVarP(&displayName, "name", "n", "", "Display name shown to the host")
	chatCmd.Flags().StringVarP(&displayName, "name", "n", "", "Display name shown to the host")

	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(chatCmd)
}

// runSession connects, runs join after every (re)connect and prints relay
// messages until ctx is done. leave runs before the socket is closed.
func runSession(ctx context.Context, join func(*relayclient.Client) error, leave func(*relayclient.Client)) error {
	client, err := newSessionClient()
	if err != nil {
		return err
	}

	client.SetMessageHandler(relayclient.AnyType, func(_ context.Context, msg *relayclient.Message) error {
		fmt.Println(messageLine(msg.Type, msg.Raw))
		return nil
	})
	client.AddOnConnectHandler(func(context.Context) error {
		return join(client)
	})

	if err := client.Connect(context.Background()); err != nil {
		client.Close()
		return err
	}
	defer client.Close()

	printInfof("Connected to %s", serverURL)
	<-ctx.Done()

	if client.IsConnected() {
		leave(client)
	}
	return nil
}

// newSessionClient builds a relay client from the persistent flags. Without
// a token the relay only accepts envelopes that name their sender.
func newSessionClient() (*relayclient.Client, error) {
	if token == "" && userID == 0 {
		return nil, errors.New("either --token or --user is required")
	}
	client := relayclient.NewClient(serverURL, token, clientLogger())
	client.SetPath(wsPath)
	if userID != 0 {
		client.SetUserID(userID)
	}
	return client, nil
}
