package cmd

import (
	"github.com/spf13/cobra"
)

func newNodeIdentifierCmd(conf *rootConfig) *cobra.Command {
	keysConf := newKeysConf(conf)
	var cmd = &cobra.Command{
		Use:   "identifier",
		Short: "Returns the agent address of the node",
		Long:  `Returns the agent address of the node, it is also the libp2p peer ID of the node. Use -g flag to generate the keys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := keysConf.load()
			if err != nil {
				return err
			}
			consoleWriter.Println(keys.Signer.Address())
			return nil
		},
	}
	keysConf.addCmdFlags(cmd)
	return cmd
}
