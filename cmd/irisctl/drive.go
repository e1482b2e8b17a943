package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"irisvault/internal/enrollment"
	"irisvault/internal/verification"
)

const origin = "http://localhost"

func newEnrollCmd(flags *globalFlags) *cobra.Command {
	var details enrollment.Details
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a synthetic eye for an account",
		Example: `  irisctl enroll --offline --name "Ada Lovelace" --account ACC1 --email ada@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := newDriver(ctx, flags)
			if err != nil {
				return err
			}
			defer d.Close()
			details.Consent = true
			return runEnrollment(ctx, cmd, d, details)
		},
	}
	cmd.Flags().StringVar(&details.Name, "name", "", "account holder name")
	cmd.Flags().StringVar(&details.AccountNumber, "account", "", "account number")
	cmd.Flags().StringVar(&details.Email, "email", "", "contact email")
	return cmd
}

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var opts loginOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a synthetic eye, falling back to the credential if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := newDriver(ctx, flags)
			if err != nil {
				return err
			}
			defer d.Close()
			return runLogin(ctx, cmd, d, opts)
		},
	}
	cmd.Flags().StringVar(&opts.account, "account", "", "account number")
	cmd.Flags().StringVar(&opts.credential, "credential", "", "fallback credential; the demo credential is used when empty")
	return cmd
}

// newDemoCmd enrolls and logs in within one process, so it works offline.
func newDemoCmd(flags *globalFlags) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Enroll and then log in, end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := newDriver(ctx, flags)
			if err != nil {
				return err
			}
			defer d.Close()
			err = runEnrollment(ctx, cmd, d, enrollment.Details{
				Name:          "Demo Customer",
				AccountNumber: account,
				Email:         "demo@example.com",
				Consent:       true,
			})
			if err != nil {
				return err
			}
			return runLogin(ctx, cmd, d, loginOptions{account: account})
		},
	}
	cmd.Flags().StringVar(&account, "account", "DEMO-0001", "account number")
	return cmd
}

func runEnrollment(ctx context.Context, cmd *cobra.Command, d *driver, details enrollment.Details) error {
	flow, err := d.factory.NewEnrollment(origin)
	if err != nil {
		return err
	}
	defer flow.Close()

	if err := flow.SubmitDetails(ctx, details); err != nil {
		return err
	}
	view := flow.Snapshot()
	if view.Capture == nil || view.Capture.DeviceError != nil {
		return fmt.Errorf("camera: %s", view.Error)
	}
	printf(cmd, "capturing %d frames\n", view.Capture.Target)
	view, err = captureEnrollment(flow, view.Capture.Target)
	if err != nil {
		return err
	}
	if view.Step != enrollment.StepResult {
		return fmt.Errorf("enrollment rejected: %s", view.Error)
	}
	printf(cmd, "enrolled %s as %s (quality %.2f)\n",
		view.Details.AccountNumber, view.Result.EnrollmentID, view.Result.QualityScore)
	return nil
}

// captureEnrollment captures until the batch is submitted.
func captureEnrollment(flow *enrollment.Flow, target int) (enrollment.View, error) {
	for range target * 3 {
		if _, err := flow.CaptureFrame(); err != nil {
			return flow.Snapshot(), err
		}
		if v := flow.Snapshot(); v.Step != enrollment.StepCapture || v.Error != "" {
			return v, nil
		}
	}
	return flow.Snapshot(), errors.New("camera produced no frames")
}

type loginOptions struct {
	account    string
	credential string
}

func runLogin(ctx context.Context, cmd *cobra.Command, d *driver, opts loginOptions) error {
	flow, err := d.factory.NewLogin(origin)
	if err != nil {
		return err
	}
	defer flow.Close()

	if err := flow.EnterAccount(ctx, opts.account); err != nil {
		return err
	}
	printf(cmd, "welcome %s\n", flow.Snapshot().AccountName)

	for {
		view := flow.Snapshot()
		switch view.Mode {
		case verification.ModeDashboard:
			printf(cmd, "authenticated %s via %s\n", view.Session.Name, view.Session.Method)
			if view.Session.Token != "" {
				printf(cmd, "handoff token expires %s\n", view.Session.TokenExpiresAt.Format("15:04:05"))
			}
			return nil

		case verification.ModeBiometricCapture:
			if view.Capture == nil || view.Capture.DeviceError != nil {
				return fmt.Errorf("camera: %s", view.Error)
			}
			if view.Error != "" {
				printf(cmd, "attempt %d of %d failed: %s\n", view.Failures, view.FailureThreshold, view.Error)
				if err := flow.StartCapture(ctx); err != nil {
					return err
				}
			}
			if err := captureLogin(flow); err != nil {
				return err
			}

		case verification.ModeFallbackCredential:
			printf(cmd, "iris not recognised, using fallback credential\n")
			credential := opts.credential
			if credential == "" {
				credential, err = flow.RequestDemoCredential(ctx)
				if err != nil {
					return err
				}
			}
			if err := flow.SubmitCredential(ctx, credential); err != nil {
				return err
			}

		default:
			return fmt.Errorf("login ended in %s: %s", view.Mode, view.Error)
		}
	}
}

// captureLogin captures one batch; the verification runs when it completes.
func captureLogin(flow *verification.Flow) error {
	view := flow.Snapshot()
	for range view.Capture.Target * 3 {
		if _, err := flow.CaptureFrame(); err != nil {
			return err
		}
		v := flow.Snapshot()
		if v.Mode != verification.ModeBiometricCapture || v.Failures != view.Failures {
			return nil
		}
	}
	return errors.New("camera produced no frames")
}
