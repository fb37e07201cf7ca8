package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mutualcredit/mcledger/rpc/client"
	"github.com/mutualcredit/mcledger/types"
)

const (
	rpcServerAddressCmdFlag = "rpc-server-address"
	anchorCmdFlag           = "anchor"
)

type clientConfig struct {
	RPCServerAddress string
}

func (c *clientConfig) client() (*client.AgentClient, error) {
	return client.New(c.RPCServerAddress)
}

// newClientCmd creates the commands which call the REST API of a running ledger node.
func newClientCmd() *cobra.Command {
	config := &clientConfig{}
	var cmd = &cobra.Command{
		Use:   "client",
		Short: "Calls the REST API of the ledger node",
	}
	cmd.PersistentFlags().StringVarP(&config.RPCServerAddress, rpcServerAddressCmdFlag, "r", defaultRESTAddress, "REST API address of the ledger node")

	cmd.AddCommand(newInfoCmd(config))
	cmd.AddCommand(newBalanceCmd(config))
	cmd.AddCommand(newTransactionsCmd(config))
	cmd.AddCommand(newAttestationsCmd(config))
	cmd.AddCommand(newOfferCmd(config))
	return cmd
}

func newInfoCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Shows agent address and network connections of the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			info, err := c.Info(cmd.Context())
			if err != nil {
				return err
			}
			return consoleWriter.PrintJSON(info)
		},
	}
}

func newBalanceCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Shows balance of the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			rsp, err := c.GetBalance(cmd.Context())
			if err != nil {
				return err
			}
			consoleWriter.Println(strconv.FormatFloat(rsp.Balance, 'f', -1, 64))
			return nil
		},
	}
}

func newTransactionsCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "transactions",
		Short: "Lists committed transactions of the agent, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			txs, err := c.GetTransactions(cmd.Context())
			if err != nil {
				return err
			}
			return consoleWriter.PrintJSON(txs)
		},
	}
}

func newAttestationsCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "attestations",
		Short: "Lists attestations of the agent, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			atts, err := c.GetAttestations(cmd.Context())
			if err != nil {
				return err
			}
			return consoleWriter.PrintJSON(atts)
		},
	}
}

func newOfferCmd(config *clientConfig) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "offer",
		Short: "Creates, accepts and cancels offers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists offers of the agent, most recently changed first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			offers, err := c.GetOffers(cmd.Context())
			if err != nil {
				return err
			}
			return consoleWriter.PrintJSON(offers)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <transaction address>",
		Short: "Shows the offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			offer, err := c.GetOffer(cmd.Context(), types.Address(args[0]))
			if err != nil {
				return err
			}
			return consoleWriter.PrintJSON(offer)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create <creditor> <amount>",
		Short: "Offers to owe the amount to the creditor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			c, err := config.client()
			if err != nil {
				return err
			}
			txAddr, err := c.CreateOffer(cmd.Context(), types.Address(args[0]), amount)
			if err != nil {
				return err
			}
			consoleWriter.Println(txAddr)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "snapshot <transaction address>",
		Short: "Evaluates the chain of the counterparty of the offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			snap, err := c.GetSnapshot(cmd.Context(), types.Address(args[0]))
			if err != nil {
				return err
			}
			return consoleWriter.PrintJSON(snap)
		},
	})
	cmd.AddCommand(newAcceptOfferCmd(config))
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <transaction address>",
		Short: "Cancels the offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			return c.CancelOffer(cmd.Context(), types.Address(args[0]))
		},
	})
	return cmd
}

func newAcceptOfferCmd(config *clientConfig) *cobra.Command {
	var anchor string
	var cmd = &cobra.Command{
		Use:   "accept <transaction address>",
		Short: "Accepts the offer",
		Long: `Accepts the offer on top of the counterparty's last chain header. When the anchor
is not given the counterparty's chain snapshot is evaluated first and the offer is
accepted only when it is executable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			txAddr := types.Address(args[0])
			if anchor == "" {
				snap, err := c.GetSnapshot(cmd.Context(), txAddr)
				if err != nil {
					return err
				}
				if !snap.Valid {
					return fmt.Errorf("chain of the counterparty is not valid: %s", snap.InvalidReason)
				}
				if !snap.Executable {
					return fmt.Errorf("offer is not executable, counterparty's balance is %v", snap.Balance)
				}
				anchor = string(snap.LastHeaderAddress)
			}
			proof, err := c.AcceptOffer(cmd.Context(), txAddr, types.Address(anchor))
			if err != nil {
				return err
			}
			return consoleWriter.PrintJSON(proof)
		},
	}
	cmd.Flags().StringVar(&anchor, anchorCmdFlag, "", "address of the counterparty's last chain header, the snapshot is evaluated when not set")
	return cmd
}
