package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rewind/internal/credential"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored settings and provider keys",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Keys ending in .api_key are encrypted, e.g. `rewind config set gemini.api_key ...`.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if isSecretKey(key) {
			err = s.SetSecret(key, value)
		} else {
			err = s.SetConfig(key, value)
		}
		if err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value (keys are masked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		var val string
		if isSecretKey(key) {
			val, err = s.GetSecret(key)
			if val != "" {
				val = credential.MaskSecret(val)
			}
		} else {
			val, err = s.GetConfig(key)
		}
		if err != nil {
			return err
		}
		if val == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "(not set)")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), val)
		}
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset [key]",
	Short: "Remove a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration removed: %s\n", args[0])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		settings, err := s.List()
		if err != nil {
			return err
		}
		if len(settings) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No settings stored")
			return nil
		}
		rows := make([][]string, 0, len(settings))
		for _, st := range settings {
			rows = append(rows, []string{st.Key, st.Value, st.UpdatedAt.Local().Format("2006-01-02 15:04")})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value", "Updated"}, rows, nil))
		return nil
	},
}

func isSecretKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".api_key")
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configListCmd)
}
