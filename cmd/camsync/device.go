package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/camai/camsync"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// events
	eventsType  string
	eventsLimit int
	eventsJSON  bool

	// recordings
	recordingsDate  string
	recordingsLimit int
	recordingsDates bool
	recordingsJSON  bool

	// settings show
	settingsJSON bool
)

// ============================================================================
// events
// ============================================================================

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent detection events",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		events, err := client.ListEvents(ctx, camsync.EventQuery{Type: eventsType, Limit: eventsLimit})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if eventsJSON {
			return printJSON(events)
		}
		if len(events) == 0 {
			fmt.Println("No events found.")
			return nil
		}
		for _, ev := range events {
			desc := ev.Description
			if desc == "" {
				desc = ev.Class
			}
			fmt.Printf("[%s] %-14s %-10s %3.0f%%  %s\n",
				ev.Time().Format(time.DateTime), ev.Type, ev.Class, ev.Confidence*100, desc)
		}
		return nil
	},
}

// ============================================================================
// recordings
// ============================================================================

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "List recorded clips",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if recordingsDates {
			dates, err := client.RecordingDates(ctx)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			for _, d := range dates {
				fmt.Println(d)
			}
			return nil
		}

		recs, err := client.ListRecordings(ctx, camsync.RecordingQuery{Date: recordingsDate, Limit: recordingsLimit})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if recordingsJSON {
			return printJSON(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No recordings found.")
			return nil
		}
		for _, r := range recs {
			start := time.Unix(int64(r.StartTime), 0)
			fmt.Printf("%-8s %s  %6.1fs  %8d bytes  %s\n",
				r.ID, start.Format(time.DateTime), r.Duration, r.Size, client.RecordingStreamURL(r.ID))
		}
		return nil
	},
}

// ============================================================================
// ptz
// ============================================================================

var ptzCmd = &cobra.Command{
	Use:   "ptz",
	Short: "Pan-tilt-zoom commands",
}

var ptzStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show PTZ controller status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		st, err := client.PTZStatus(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Connected:     %t\n", st.Connected)
		fmt.Printf("Auto tracking: %t\n", st.AutoTracking)
		return nil
	},
}

var ptzMoveCmd = &cobra.Command{
	Use:   "move <pan> <tilt>",
	Short: "Move the camera (values in -1..1)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pan, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid pan %q", args[0])
		}
		tilt, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid tilt %q", args[1])
		}
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := client.PTZMove(ctx, pan, tilt); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Moving.")
		return nil
	},
}

var ptzStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop camera movement",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := client.PTZStop(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Stopped.")
		return nil
	},
}

// ============================================================================
// settings
// ============================================================================

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Device settings commands",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the device settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		s, err := client.Settings(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if settingsJSON {
			return printJSON(s)
		}
		fmt.Printf("Detection:  confidence=%.2f iou=%.2f\n", s.Detection.Confidence, s.Detection.IoUThreshold)
		fmt.Printf("PTZ:        enabled=%t speed=%.2f deadzone=%.2f\n", s.PTZ.Enabled, s.PTZ.TrackSpeed, s.PTZ.Deadzone)
		fmt.Printf("Pose:       enabled=%t loaded=%t\n", s.Pose.Enabled, s.Pose.Loaded)
		fmt.Printf("Classifier: enabled=%t loaded=%t\n", s.Classifier.Enabled, s.Classifier.Loaded)
		fmt.Printf("Display:    overlays=%t\n", s.Display.ShowOverlays)
		fmt.Printf("Stream:     %dx%d q=%d\n", s.Stream.Width, s.Stream.Height, s.Stream.Quality)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <section> <json>",
	Short: "Update one settings section",
	Long:  "Post a JSON object to a settings section.\nExample: camsync settings set detection '{\"confidence\":0.5}'",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var values map[string]any
		if err := json.Unmarshal([]byte(args[1]), &values); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := client.UpdateSettings(ctx, args[0], values); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Updated %s\n", args[0])
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Filter by event type")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "Maximum number of events to return")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "Output raw JSON")

	recordingsCmd.Flags().StringVar(&recordingsDate, "date", "", "Only recordings from this day (YYYY-MM-DD)")
	recordingsCmd.Flags().IntVarP(&recordingsLimit, "limit", "n", 50, "Maximum number of recordings to return")
	recordingsCmd.Flags().BoolVar(&recordingsDates, "dates", false, "List the days that have recordings")
	recordingsCmd.Flags().BoolVar(&recordingsJSON, "json", false, "Output raw JSON")

	settingsShowCmd.Flags().BoolVar(&settingsJSON, "json", false, "Output raw JSON")

	ptzCmd.AddCommand(ptzStatusCmd)
	ptzCmd.AddCommand(ptzMoveCmd)
	ptzCmd.AddCommand(ptzStopCmd)

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(recordingsCmd)
	rootCmd.AddCommand(ptzCmd)
	rootCmd.AddCommand(settingsCmd)
}
