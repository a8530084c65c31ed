package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	kilnlibvirt "github.com/jbweber/kiln/internal/libvirt"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln - golden image bakery for libvirt",
	Long: `Kiln bakes golden VM images on a libvirt hypervisor.

A build provisions a short-lived VM from a base image, customizes and
generalizes it in-guest, waits for it to power itself off, captures the
boot disk as a reusable image, and removes the build scaffolding.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.AddCommand(bakeCmd)
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(testConnCmd)
}

var testConnCmd = &cobra.Command{
	Use:     "test-connection",
	Aliases: []string{"test-conn"},
	Short:   "Test libvirt connection",
	Long:    `Test connectivity to the libvirt daemon and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Testing libvirt connection...")

		client, err := kilnlibvirt.Connect("", 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		fmt.Println("✓ Connected to libvirt daemon")

		auth, err := client.Authenticate(true)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		major := auth.LibVersion / 1000000
		minor := (auth.LibVersion % 1000000) / 1000
		patch := auth.LibVersion % 1000

		fmt.Printf("✓ Authenticated as %s\n", auth.Principal)
		fmt.Printf("✓ Libvirt version: %d.%d.%d\n", major, minor, patch)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
