package cmd

import (
	"encoding/json"
	"os"

	"contactrecon/internal/models"
	"contactrecon/internal/service"

	"github.com/spf13/cobra"
)

type identifyFlags struct {
	email string
	phone string
}

func init() {
	f := new(identifyFlags)

	identifyCmd := &cobra.Command{
		Use:   "identify [--email email] [--phone phone]",
		Short: "Reconcile one contact against the configured database and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.close()

			svc := service.NewReconciliationService(e.store, e.logger, nil)
			identity, err := svc.Identify(cmd.Context(), models.NewDescriptor(f.email, f.phone))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(identity)
		},
	}
	identifyCmd.Flags().StringVar(&f.email, "email", "", "contact email")
	identifyCmd.Flags().StringVar(&f.phone, "phone", "", "contact phone number")
	rootCmd.AddCommand(identifyCmd)
}
