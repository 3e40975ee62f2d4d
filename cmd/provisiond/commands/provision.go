package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/provisioning"
)

var (
	provisionDomain string
	provisionName   string
	provisionDN     string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision one account from a domain's external directory",
	Long: `Provision looks up one entry in the external directory configured on a
domain and creates the matching local account. The domain must allow MANUAL
or LAZY auto-provisioning.

Examples:
  provisiond provision --domain example.com --name alice
  provisiond provision --domain example.com --dn uid=alice,ou=people,dc=corp,dc=com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if (provisionName == "") == (provisionDN == "") {
			return errors.New("exactly one of --name or --dn is required")
		}

		ctx, d, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()

		domain, err := d.Service().Get(ctx, entity.KindDomain, provisioning.ByName, provisionDomain)
		if err != nil {
			return err
		}

		var account *entity.Entity
		if provisionName != "" {
			account, err = d.Provisioner().ProvisionByName(ctx, domain, provisionName)
		} else {
			account, err = d.Provisioner().ProvisionByDN(ctx, domain, provisionDN)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account.Name, account.DN)
		return nil
	},
}

func init() {
	provisionCmd.Flags().StringVar(&provisionDomain, "domain", "", "local domain to provision into")
	provisionCmd.Flags().StringVar(&provisionName, "name", "", "principal to look up with the domain's search filter")
	provisionCmd.Flags().StringVar(&provisionDN, "dn", "", "DN of the external entry")
	_ = provisionCmd.MarkFlagRequired("domain")
}
