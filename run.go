package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/services"
	"github.com/camden-git/scamqc/workers"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		preset     string
		publish    bool
		warnedOnly bool
		loadDraft  bool
		saveDraft  bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <folder>",
		Short: "Re-run page detection on a folder and report the result",
		Long: "run opens a folder, submits its unchecked images to the detector, waits for the " +
			"batch and prints one row per image. With --publish the corrected scam.json is saved.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := args[0]
			if !strings.HasSuffix(folder, "/") {
				folder += "/"
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			stderr := cmd.ErrOrStderr()
			session, _, err := a.newSession(preset, services.Hooks{
				OnProgress: func(p workers.Progress) {
					if p.Status == workers.StatusRunning {
						fmt.Fprintf(stderr, "\r%d/%d images (%.0f%%)", len(p.Done), len(p.Todo), p.Percent())
					}
				},
			})
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.OpenFolder(ctx, folder); err != nil {
				return err
			}
			if session.DraftPending() {
				if err := session.DecideDraft(loadDraft, false); err != nil {
					return err
				}
			}
			// images without any data were submitted on open
			if err := waitOrAbort(ctx, session); err != nil {
				return err
			}

			submitted, err := session.Run(services.RunRequest{WarnedOnly: warnedOnly})
			if err != nil {
				return err
			}
			if err := waitOrAbort(ctx, session); err != nil {
				return err
			}
			fmt.Fprintf(stderr, "\n%d image(s) submitted\n", submitted)

			renderReport(cmd.OutOrStdout(), session.Images(), session.Options())

			if saveDraft {
				n, err := session.SaveDraft()
				if err != nil {
					return errors.New(services.DraftErrorMessage(err))
				}
				fmt.Fprintf(stderr, "draft saved with %d image(s)\n", n)
			}
			if publish {
				built, err := session.Publish(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(stderr, "published %d image(s) to %s\n", len(built.Files), folder)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Detection option preset (see DETECTION_PRESETS_PATH)")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish the corrected scam.json when the run is done")
	cmd.Flags().BoolVar(&warnedOnly, "warned-only", false, "Only re-run images with a warning")
	cmd.Flags().BoolVar(&loadDraft, "load-draft", false, "Start from the folder's stored draft, if any")
	cmd.Flags().BoolVar(&saveDraft, "save-draft", false, "Store the result as a draft")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")

	return cmd
}

// waitOrAbort waits for the batch; on cancellation the run is aborted so no
// late result is applied
func waitOrAbort(ctx context.Context, session *services.Session) error {
	if err := session.Wait(ctx); err != nil {
		session.Abort()
		return err
	}
	return nil
}

// reportRows builds one table row per image of the folder
func reportRows(images []services.ImageView, opts models.DetectionOptions) []table.Row {
	rows := make([]table.Row, 0, len(images))
	for _, img := range images {
		if img.Record == nil {
			rows = append(rows, table.Row{img.ID, "-", "-", "-", "", ""})
			continue
		}
		rec := img.Record
		warned := ""
		if services.IsWarned(*rec, opts) {
			warned = "yes"
		}
		checked := ""
		if rec.Checked {
			checked = "yes"
		}
		rows = append(rows, table.Row{
			img.ID,
			string(rec.State),
			len(rec.Data.Pages),
			services.UntaggedCount(rec.Data.Pages),
			warned,
			checked,
		})
	}
	return rows
}

func renderReport(w io.Writer, images []services.ImageView, opts models.DetectionOptions) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Image", "State", "Regions", "Pages", "Warned", "Checked"})
	t.AppendRows(reportRows(images, opts))
	t.Render()
}
