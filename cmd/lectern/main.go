package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{
		Use:           "lectern",
		Short:         "Question answering over a course textbook",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.yaml)")

	root.AddCommand(serveCMD(&cfgPath), indexCMD(&cfgPath), migrateCMD(&cfgPath), collectionCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
