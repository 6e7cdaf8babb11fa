package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/outpost-link/internal/link"
)

func portsCmd() *cobra.Command {
	var boardsOnly bool

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and their USB ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := link.EnumeratorLister{}.Ports()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PORT\tVID:PID\tSERIAL\tPRODUCT\tBOARD")
			for _, p := range ports {
				board := p.MatchesVendor(link.DefaultVendorIDs)
				if boardsOnly && !board {
					continue
				}
				ids := "-"
				if p.USB {
					ids = fmt.Sprintf("%04X:%04X", p.VID, p.PID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", p.Port, ids, p.SerialNumber, p.Product, board)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&boardsOnly, "boards", false, "only show ports from known board vendors")
	return cmd
}
