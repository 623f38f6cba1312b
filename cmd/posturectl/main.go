// posturectl drives a running posture service from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-sod/posture/internal/buildinfo"
	"github.com/go-sod/posture/internal/integration"
	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/shutdown"
)

type globalFlags struct {
	addr    string
	timeout time.Duration
}

func main() {
	ctx, done := shutdown.New()
	defer done()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.FromContext(ctx).Error(err)
		done()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "posturectl",
		Short:         "Control a posture monitoring service",
		Version:       buildinfo.Info.Tag(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.addr, "addr", envOr("POSTURE_CTL_ADDR", "localhost:8787"), "service address host:port")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", time.Minute, "request timeout")

	root.AddCommand(
		newHealthCmd(flags),
		newSessionCmd(flags),
		newLabelCmd(flags),
		newTrainCmd(flags),
		newAccuracyCmd(flags),
		newExportCmd(flags),
		newSensitivityCmd(flags),
		newSimulateCmd(flags),
	)
	return root
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func (f *globalFlags) client() *integration.Client {
	return integration.NewClient(f.addr)
}

func (f *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), f.timeout)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			h, err := flags.client().Health(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, h)
		},
	}
}

func newSessionCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open, inspect or close sessions",
	}

	var id string
	open := &cobra.Command{
		Use:   "open",
		Short: "Open a session, restoring journaled samples when --id is known",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			s, err := flags.client().OpenSession(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}
	open.Flags().StringVar(&id, "id", "", "session id, a new one is generated when empty")

	stats := &cobra.Command{
		Use:   "stats <session>",
		Short: "Show the samples and classifier state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			st, err := flags.client().Stats(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close <session>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			return flags.client().CloseSession(ctx, args[0])
		},
	}

	cmd.AddCommand(open, stats, closeCmd)
	return cmd
}

func newLabelCmd(flags *globalFlags) *cobra.Command {
	var (
		label  string
		file   string
		angle  float64
		jitter float64
		count  int
	)
	cmd := &cobra.Command{
		Use:   "label <session>",
		Short: "Save labeled samples from a frame file or synthetic frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			c := flags.client()
			for i := 0; i < count; i++ {
				points := syntheticFrame(angle, jitter)
				if file != "" {
					var err error
					if points, err = readFrame(file); err != nil {
						return err
					}
				}
				s, err := c.Label(ctx, integration.LabelRequest{SessionID: args[0], Label: label, Landmarks: points})
				if err != nil {
					return err
				}
				if err := printJSON(cmd, s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "sample label")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with 33 [x, y, z] points")
	cmd.Flags().Float64Var(&angle, "angle", 10, "angle of the synthetic frame in degrees")
	cmd.Flags().Float64Var(&jitter, "jitter", 0.005, "coordinate noise of the synthetic frame")
	cmd.Flags().IntVar(&count, "count", 1, "number of samples to save")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func newTrainCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "train <session>",
		Short: "Rebuild the session classifier from its samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			res, err := flags.client().Train(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newAccuracyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "accuracy <session>",
		Short: "Measure the classifier on the newest fifth of the samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			res, err := flags.client().Accuracy(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <session>",
		Short: "Download the samples of a session into a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			exp, err := flags.client().Export(ctx, args[0])
			if err != nil {
				return err
			}
			name := exp.Name
			if name == "" {
				name = "posture_data.json"
			}
			path := filepath.Join(dir, filepath.Base(name))
			if err := ioutil.WriteFile(path, exp.Body, 0644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", path, len(exp.Body))
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory the export is written to")
	return cmd
}

func newSensitivityCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sensitivity <session> <degrees>",
		Short: "Set the bad posture threshold of a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deg, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid degrees %q: %w", args[1], err)
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			got, err := flags.client().SetSensitivity(ctx, args[0], deg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "sensitivity %.1f\n", got)
			return err
		},
	}
}

func newSimulateCmd(flags *globalFlags) *cobra.Command {
	var (
		frames   int
		angle    float64
		jitter   float64
		interval time.Duration
		stream   bool
		origin   string
	)
	cmd := &cobra.Command{
		Use:   "simulate <session>",
		Short: "Send synthetic frames and print the feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := flags.client()
			send := func(points [][]float64) (*integration.Feedback, error) {
				rctx, cancel := flags.context(cmd)
				defer cancel()
				return c.Analyze(rctx, integration.FrameRequest{SessionID: args[0], Landmarks: points})
			}
			if stream {
				s, err := c.Stream(ctx, args[0], origin)
				if err != nil {
					return err
				}
				defer s.Close()
				send = s.Send
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for i := 0; i < frames; i++ {
				fb, err := send(syntheticFrame(angle, jitter))
				if err != nil {
					return err
				}
				if fb.Error != "" {
					return fmt.Errorf("frame %d: %s", i, fb.Error)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%4d angle=%5.1f threshold=%4.1f label=%-6s source=%-10s captured=%v\n",
					i, fb.Angle, fb.Threshold, fb.Label, fb.Source, fb.Captured)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 30, "number of frames to send")
	cmd.Flags().Float64Var(&angle, "angle", 15, "base angle in degrees")
	cmd.Flags().Float64Var(&jitter, "jitter", 0.01, "coordinate noise per frame")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "delay between frames")
	cmd.Flags().BoolVar(&stream, "stream", false, "send frames over the /stream websocket")
	cmd.Flags().StringVar(&origin, "origin", "http://localhost/", "origin sent in the websocket handshake")
	return cmd
}
