package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

// NewConfigCmd prints the non-sensitive configuration
func NewConfigCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration (secrets omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			public := cfg.Public()
			public["gemini_key_configured"] = cfg.HasGeminiKey()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(public)
			}

			keys := make([]string, 0, len(public))
			for k := range public {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			fmt.Println(titleStyle.Render("Configuration"))
			for _, k := range keys {
				printField(os.Stdout, k, public[k])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// NewReportsCmd lists delivered reports
func NewReportsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List recently delivered reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			reports, err := st.ListReports(ctx, limit)
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Println("No reports delivered yet")
				return nil
			}

			fmt.Println(titleStyle.Render("Recent reports"))
			for _, r := range reports {
				fmt.Printf("%s  %s  %d topics / %d documents\n",
					headingStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04")), r.Title, r.Topics, r.Documents)
				if r.LocalPath != "" {
					printField(os.Stdout, "  local", r.LocalPath)
				}
				if r.RemoteURL != "" {
					printField(os.Stdout, "  drive", r.RemoteURL)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of reports to show")
	return cmd
}
