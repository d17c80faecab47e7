package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gsraster/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gsbatch",
	Short: "gsbatch rasterizes documents with Ghostscript, one worker per job",
	Long: `gsbatch runs Ghostscript over a set of input documents several times in
parallel, one isolated worker per job, and reports how each job went.

Examples:

  Render test.ps at nine resolutions (270..510 dpi) into test1.tiff..test9.tiff:
    gsbatch convert test/test.ps

  Render two files into one PNG per resolution:
    gsbatch convert --device png16m --resolutions 150,300 --output "out/page-%d.png" a.pdf b.pdf

Configuration:
  Flags can also be set from the environment with the GSRASTER_ prefix,
  e.g. GSRASTER_DEVICE=tifflzw, or from $HOME/.gsbatch.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logger.Init(logger.Config{
			Level:      viper.GetString("log-level"),
			Encoding:   "console",
			OutputPath: "stderr",
			Service:    "gsbatch",
		})
		return err
	},
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".gsbatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GSRASTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gsbatch.yaml)")

	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}
