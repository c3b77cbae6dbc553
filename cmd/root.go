package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/beaconscope/internal/config"
	"github.com/sw33tLie/beaconscope/internal/utils"
	"github.com/sw33tLie/beaconscope/pkg/client"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	 _                                             
	| |__   ___  __ _  ___ ___  _ __  ___  ___ ___  _ __   ___ 
	| '_ \ / _ \/ _' |/ __/ _ \| '_ \/ __|/ __/ _ \| '_ \ / _ \
	| |_) |  __/ (_| | (_| (_) | | | \__ \ (_| (_) | |_) |  __/
	|_.__/ \___|\__,_|\___\___/|_| |_|___/\___\___/| .__/ \___|
	                                              |_|         
`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "beaconscope",
	Short: "Capture and inspect the analytics events your pages send.",
	Long: LOGO + `beaconscope intercepts Segment, RudderStack, Hightouch and June calls through
a small browser shim, rebuilds the events the SDK actually sent and keeps them
per tab, surviving restarts of the capturing process.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.beaconscope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("bridge", "", "Bridge URL used by client commands (default: http://<server.listen>)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".beaconscope")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BEACONSCOPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".beaconscope.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating config file: %s\n", err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSettings() (*config.Settings, error) {
	return config.Load(viper.GetViper())
}

// bridgeClient builds a client for the running daemon.
func bridgeClient(cmd *cobra.Command) (*client.Client, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	base, _ := cmd.Flags().GetString("bridge")
	if base == "" {
		base = "http://" + s.Server.Listen
	}
	return client.New(base, s.Server.Username, s.Server.Password), nil
}
