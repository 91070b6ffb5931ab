package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pimbl/internal/submission"
)

// submitFlags are the one-shot report fields.
type submitFlags struct {
	address     string
	category    string
	description string
	timestamp   string
	images      []string
	noSubmit    bool
}

func newSubmitCmd() *cobra.Command {
	var f submitFlags

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "File one report and print the service request number",
		Example: `  pimbl submit --address "382 Bridge St, Brooklyn" --image car.jpg
  pimbl submit --address "382 Bridge St, Brooklyn" --timestamp 2025-11-03T11:51:00-05:00 --no-submit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck
			return a.submitOnce(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.address, "address", "", "street address of the violation (required)")
	cmd.Flags().StringVar(&f.category, "category", submission.DefaultProblemCategory, "problem detail as shown in the portal dropdown")
	cmd.Flags().StringVar(&f.description, "description", submission.DefaultDescription, "free-text description")
	cmd.Flags().StringVar(&f.timestamp, "timestamp", "", "observation time, RFC 3339 (default now)")
	cmd.Flags().StringArrayVar(&f.images, "image", nil, "photo to attach, repeatable up to 3 times")
	cmd.Flags().BoolVar(&f.noSubmit, "no-submit", false, "stop at the review page instead of submitting")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

// request turns the flags into a validated submission request.
func (f submitFlags) request(now time.Time) (submission.Request, error) {
	observedAt := now
	if f.timestamp != "" {
		t, err := time.Parse(time.RFC3339, f.timestamp)
		if err != nil {
			return submission.Request{}, fmt.Errorf("--timestamp: %w", err)
		}
		observedAt = t
	}

	attachments := make([]string, 0, len(f.images))
	for _, img := range f.images {
		abs, err := filepath.Abs(img)
		if err != nil {
			return submission.Request{}, fmt.Errorf("--image %s: %w", img, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return submission.Request{}, fmt.Errorf("--image %s: %w", img, err)
		}
		attachments = append(attachments, abs)
	}

	req := submission.Request{
		ProblemCategory: f.category,
		ObservedAt:      observedAt,
		Description:     f.description,
		Address:         f.address,
		Attachments:     attachments,
	}.WithDefaults(now)
	return req, req.Validate()
}

func (a *app) submitOnce(parent context.Context, f submitFlags) error {
	req, err := f.request(time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx, f.noSubmit); err != nil {
		return err
	}
	defer a.shutdown(nil)

	res, err := a.workflow.Run(ctx, req)
	if err != nil {
		a.logger.Error("✗ Submission failed", zap.String("request_id", res.RequestID), zap.Error(err))
		return err
	}

	a.logger.Info("✅ Submission finished",
		zap.String("request_id", res.RequestID),
		zap.String("state", res.State.String()),
		zap.String("service_request_number", res.ServiceRequestNumber),
	)
	fmt.Fprintln(os.Stdout, res.ServiceRequestNumber)
	return nil
}
