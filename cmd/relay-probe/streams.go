package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"github.com/tphan267/pulse-relay/pkg/relay"
)

var streamsPage int

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "List live streams",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call[[]relay.StreamInfo](fiber.Get(endpoint("/api/streams?page=" + strconv.Itoa(streamsPage))))
		if err != nil {
			return err
		}
		fmt.Println(streamsView(res.Data, time.Now()))
		if res.Meta != nil && res.Meta.Pagination != nil {
			fmt.Println(pageLine(*res.Meta.Pagination))
		}
		return nil
	},
}

var endCmd = &cobra.Command{
	Use:   "end <stream-id>",
	Short: "Force-end a stream (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := do[map[string]any](fiber.Delete(endpoint("/api/streams/" + args[0]))); err != nil {
			return err
		}
		printSuccess("Stream " + args[0] + " ended")
		return nil
	},
}

func init() {
	streamsCmd.Flags().IntVarP(&streamsPage, "page", "p", 1, "Page of the stream list to show")
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(endCmd)
}
