package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dunamismax/facefilter/internal/share"
	"github.com/dunamismax/facefilter/internal/workflow"
)

type runOptions struct {
	imagePath  string
	useCapture bool
	filterID   string
	save       bool
	share      bool
	shareTitle string
}

func (o runOptions) validate() error {
	switch {
	case o.imagePath == "" && !o.useCapture:
		return errors.New("one of --image or --capture is required")
	case o.imagePath != "" && o.useCapture:
		return errors.New("--image and --capture are mutually exclusive")
	case o.filterID == "":
		return errors.New("--filter is required (see `facefilter filters`)")
	}
	return nil
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture or pick a photo, validate the face and apply a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}

			controller, err := a.controller(cmd.Context(), opts.imagePath)
			if err != nil {
				return err
			}
			unsubscribe := controller.Subscribe(progressObserver(os.Stderr))
			defer unsubscribe()

			err = runSession(cmd, controller, opts)
			printSession(cmd.OutOrStdout(), controller.Snapshot())
			return err
		},
	}

	cmd.Flags().StringVar(&opts.imagePath, "image", "", "path of an existing photo to transform")
	cmd.Flags().BoolVar(&opts.useCapture, "capture", false, "take a new photo with CAPTURE_CMD")
	cmd.Flags().StringVar(&opts.filterID, "filter", "", "filter id to apply")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the result to the gallery")
	cmd.Flags().BoolVar(&opts.share, "share", false, "share the result")
	cmd.Flags().StringVar(&opts.shareTitle, "share-title", share.DefaultDialogTitle, "title shown with the shared image")
	return cmd
}

func runSession(cmd *cobra.Command, controller *workflow.Controller, opts runOptions) error {
	ctx := cmd.Context()

	var err error
	if opts.useCapture {
		err = controller.Capture(ctx)
	} else {
		err = controller.Pick(ctx)
	}
	if err != nil {
		return err
	}

	if err := controller.SelectFilter(ctx, opts.filterID); err != nil {
		return err
	}

	var errs []error
	if opts.save {
		if _, err := controller.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.share {
		if err := controller.Share(ctx, share.Options{DialogTitle: opts.shareTitle}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// progressObserver shows a spinner on w while a transform call is running.
func progressObserver(w io.Writer) workflow.Observer {
	var bar *progressbar.ProgressBar
	return func(e workflow.Event) {
		if e.Type != workflow.EventTransformProgress {
			return
		}
		if e.InProgress {
			bar = progressbar.NewOptions(-1,
				progressbar.OptionSetWriter(w),
				progressbar.OptionSetDescription("Applying "+e.Session.SelectedFilterID),
				progressbar.OptionSpinnerType(14),
				progressbar.OptionClearOnFinish(),
			)
			_ = bar.RenderBlank()
			return
		}
		if bar != nil {
			_ = bar.Finish()
			bar = nil
		}
	}
}

func printSession(w io.Writer, s workflow.Session) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "state:\t%s\n", s.State)
	if s.ID != "" {
		fmt.Fprintf(tw, "session:\t%s\n", s.ID)
	}
	if s.NormalizedURI != "" {
		fmt.Fprintf(tw, "normalized:\t%s\n", s.NormalizedURI)
	}
	if s.ValidatedFace != nil {
		b := s.ValidatedFace.Bounds
		clarity := ""
		if s.LowClarity {
			clarity = " (low clarity)"
		}
		fmt.Fprintf(tw, "face:\t%.0fx%.0f at (%.0f,%.0f) of %d detected%s\n", b.Width, b.Height, b.X, b.Y, len(s.DetectedFaces), clarity)
	}
	if s.SelectedFilterID != "" {
		fmt.Fprintf(tw, "filter:\t%s\n", s.SelectedFilterID)
	}
	if s.TransformedURI != "" {
		fmt.Fprintf(tw, "transformed:\t%s\n", s.TransformedURI)
	}
	if s.SavedAssetID != "" {
		fmt.Fprintf(tw, "saved asset:\t%s\n", s.SavedAssetID)
	}
	if s.LastError != "" {
		fmt.Fprintf(tw, "error:\t%s (%s)\n", s.LastError, s.LastErrorKind)
	}
	_ = tw.Flush()
}
