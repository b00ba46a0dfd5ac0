package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/notifyd/internal/build"
)

const releaseSlug = "shaharia-lab/notifyd"

// NewUpdateCmd returns the "update" subcommand that self-updates the binary.
func NewUpdateCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update notifyd to the latest release",
		Long:  "Check GitHub releases for a newer version of notifyd and update the binary in place.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func runUpdate(ctx context.Context, in io.Reader, out io.Writer, skipConfirm bool) error {
	current, err := currentVersion(build.Version)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Current version: %s\n", current)
	fmt.Fprint(out, "Checking for updates... ")

	updater, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return fmt.Errorf("creating updater: %w", err)
	}

	release, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(releaseSlug))
	if err != nil {
		return fmt.Errorf("checking for updates: %w", err)
	}
	if !found {
		fmt.Fprintln(out, "no releases found.")
		return nil
	}

	newer, err := isNewer(current, release.Version())
	if err != nil {
		return err
	}
	if !newer {
		fmt.Fprintln(out, "already up to date.")
		return nil
	}

	fmt.Fprintf(out, "found %s\n", release.Version())

	if !skipConfirm {
		fmt.Fprintf(out, "Update to %s? [y/N] ", release.Version())
		var input string
		fmt.Fscanln(in, &input) //nolint:errcheck,gosec
		if input != "y" && input != "Y" {
			fmt.Fprintln(out, "Update canceled.")
			return nil
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding current executable: %w", err)
	}

	fmt.Fprintf(out, "Updating to %s...\n", release.Version())
	if err := updater.UpdateTo(ctx, release, exe); err != nil {
		return fmt.Errorf("updating: %w", err)
	}

	fmt.Fprintf(out, "Updated to %s. Restart notifyd to use the new version.\n", release.Version())
	return nil
}

// currentVersion parses the build version. Dev builds cannot be updated.
func currentVersion(v string) (*semver.Version, error) {
	if v == "dev" || v == "unknown" {
		return nil, fmt.Errorf("cannot update a dev build; install a tagged release first")
	}
	cur, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("parsing current version %q: %w", v, err)
	}
	return cur, nil
}

// isNewer reports whether latest is a higher semantic version than current.
func isNewer(current *semver.Version, latest string) (bool, error) {
	lv, err := semver.NewVersion(latest)
	if err != nil {
		return false, fmt.Errorf("parsing release version %q: %w", latest, err)
	}
	return lv.GreaterThan(current), nil
}
