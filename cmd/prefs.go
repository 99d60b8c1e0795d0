package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Ashfaaq98/helium-console/internal/store"
	"github.com/spf13/cobra"
)

var (
	prefsToggle bool
	prefsAck    bool
)

// prefsCmd groups the local preference commands
var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change local preferences",
}

var darkModeCmd = &cobra.Command{
	Use:   "dark-mode",
	Short: "Show or toggle the dark mode preference",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		var enabled bool
		if prefsToggle {
			enabled, err = st.ToggleDarkMode(ctx)
		} else {
			enabled, err = st.IsDarkModeEnabled(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dark mode: %s\n", onOff(enabled))
		return nil
	},
}

var bannerCmd = &cobra.Command{
	Use:   "banner [text]",
	Short: "Show whether a banner is still to be displayed, or acknowledge it",
	Long: `A banner is displayed by the case view until it is acknowledged. Changing
the text shows it again. Without an argument the ui.banner setting is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := GetConfig()
		text := cfg.UI.Banner
		if len(args) == 1 {
			text = args[0]
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("no banner text (pass one or set ui.banner)")
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		out := cmd.OutOrStdout()
		if prefsAck {
			if err := st.AckBanner(ctx, text); err != nil {
				return err
			}
			fmt.Fprintf(out, "Banner acknowledged (checksum %d)\n", store.BannerChecksum(text))
			return nil
		}
		pending, err := st.Banner(ctx, text)
		if err != nil {
			return err
		}
		if pending == "" {
			fmt.Fprintln(out, "Banner already acknowledged.")
			return nil
		}
		fmt.Fprintf(out, "Banner pending:\n%s\n", pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(darkModeCmd, bannerCmd)

	darkModeCmd.Flags().BoolVar(&prefsToggle, "toggle", false, "Flip the dark mode preference")
	bannerCmd.Flags().BoolVar(&prefsAck, "ack", false, "Acknowledge the banner")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
