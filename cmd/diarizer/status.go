package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the enrollment state of the profile owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(renderStatus(a.engine(a.logger).CalibrationStatus()))
		return nil
	},
}
